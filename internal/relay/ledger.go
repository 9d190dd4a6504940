package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const ledgerKeyPrefix = "relay:"

// LedgerEntry records a relay that reached the file hub.
type LedgerEntry struct {
	Size        int64     `json:"size"`
	CompletedAt time.Time `json:"completed_at"`
}

// Ledger is a local record of relayed objects, keyed by remote key. It lets
// the relay engine skip duplicate uploads without a round-trip to the file
// hub. It is a cache: a miss or a read error only costs an extra Stat.
type Ledger struct {
	db *badger.DB
}

// OpenLedger opens (or creates) the ledger database at dir.
func OpenLedger(dir string) (*Ledger, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open relay ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// OpenInMemoryLedger opens a ledger that lives only for the process.
func OpenInMemoryLedger() (*Ledger, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory relay ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Lookup returns the recorded entry for a remote key, if any.
func (l *Ledger) Lookup(key string) (LedgerEntry, bool, error) {
	var entry LedgerEntry
	found := false

	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(ledgerKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode ledger entry: %w", err)
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("ledger lookup: %w", err)
	}

	return entry, found, nil
}

// Record stores (or replaces) the entry for a remote key.
func (l *Ledger) Record(key string, size int64) error {
	data, err := json.Marshal(LedgerEntry{Size: size, CompletedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(ledgerKeyPrefix+key), data)
	})
	if err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	return nil
}

// Reset drops every entry.
func (l *Ledger) Reset() error {
	if err := l.db.DropAll(); err != nil {
		return fmt.Errorf("ledger reset: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
