package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedger_RecordAndLookup(t *testing.T) {
	ledger, err := OpenInMemoryLedger()
	assert.NoError(t, err)
	defer ledger.Close()

	_, found, err := ledger.Lookup("120/a.mp4")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, ledger.Record("120/a.mp4", 4096))

	entry, found, err := ledger.Lookup("120/a.mp4")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(4096), entry.Size)
	assert.False(t, entry.CompletedAt.IsZero())
}

func TestLedger_RecordReplaces(t *testing.T) {
	ledger, err := OpenInMemoryLedger()
	assert.NoError(t, err)
	defer ledger.Close()

	assert.NoError(t, ledger.Record("k", 100))
	assert.NoError(t, ledger.Record("k", 200))

	entry, found, err := ledger.Lookup("k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(200), entry.Size)
}

func TestLedger_Reset(t *testing.T) {
	ledger, err := OpenInMemoryLedger()
	assert.NoError(t, err)
	defer ledger.Close()

	assert.NoError(t, ledger.Record("k", 100))
	assert.NoError(t, ledger.Reset())

	_, found, err := ledger.Lookup("k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	ledger, err := OpenLedger(dir)
	assert.NoError(t, err)
	assert.NoError(t, ledger.Record("120/a.mp4", 4096))
	assert.NoError(t, ledger.Close())

	reopened, err := OpenLedger(dir)
	assert.NoError(t, err)
	defer reopened.Close()

	entry, found, err := reopened.Lookup("120/a.mp4")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(4096), entry.Size)
}
