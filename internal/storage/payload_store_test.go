package storage

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func makeSpoolDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "payloadstore_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

func TestPayloadStore_PartialLifecycle(t *testing.T) {
	dir := makeSpoolDir(t)
	ps := NewPayloadStore(dir)

	f, err := ps.OpenPartial("fc2-100.mp4")
	if err != nil {
		t.Fatalf("OpenPartial error: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	f.Close()

	if got := ps.PartialSize("fc2-100.mp4"); got != 5 {
		t.Errorf("expected partial size 5, got %d", got)
	}
	if ps.Exists("fc2-100.mp4") {
		t.Errorf("partial file must not count as a completed payload")
	}

	final, err := ps.Promote("fc2-100.mp4")
	if err != nil {
		t.Fatalf("Promote error: %v", err)
	}
	if final != filepath.Join(dir, "fc2-100.mp4") {
		t.Errorf("unexpected final path: %s", final)
	}

	if !ps.Exists("fc2-100.mp4") {
		t.Errorf("expected payload to exist after promotion")
	}
	if got := ps.PartialSize("fc2-100.mp4"); got != 0 {
		t.Errorf("expected no partial after promotion, got size %d", got)
	}

	size, err := ps.Size("fc2-100.mp4")
	if err != nil {
		t.Fatalf("Size error: %v", err)
	}
	if size != 5 {
		t.Errorf("expected size 5, got %d", size)
	}
}

func TestPayloadStore_OpenPartialAppends(t *testing.T) {
	dir := makeSpoolDir(t)
	ps := NewPayloadStore(dir)

	f, err := ps.OpenPartial("fc2-200.mp4")
	if err != nil {
		t.Fatalf("OpenPartial error: %v", err)
	}
	f.Write([]byte("part1"))
	f.Close()

	f, err = ps.OpenPartial("fc2-200.mp4")
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	f.Write([]byte("part2"))
	f.Close()

	content, err := os.ReadFile(ps.PartialPath("fc2-200.mp4"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(content) != "part1part2" {
		t.Errorf("expected 'part1part2', got %q", string(content))
	}
}

func TestPayloadStore_DiscardPartial(t *testing.T) {
	dir := makeSpoolDir(t)
	ps := NewPayloadStore(dir)

	f, err := ps.OpenPartial("fc2-300.mp4")
	if err != nil {
		t.Fatalf("OpenPartial error: %v", err)
	}
	f.Close()

	if err := ps.DiscardPartial("fc2-300.mp4"); err != nil {
		t.Fatalf("DiscardPartial error: %v", err)
	}
	if got := ps.PartialSize("fc2-300.mp4"); got != 0 {
		t.Errorf("expected partial gone, got size %d", got)
	}

	// A second discard of the same name is not an error.
	if err := ps.DiscardPartial("fc2-300.mp4"); err != nil {
		t.Errorf("DiscardPartial on missing file: %v", err)
	}
}

func TestPayloadStore_List(t *testing.T) {
	dir := makeSpoolDir(t)
	ps := NewPayloadStore(dir)

	if err := os.WriteFile(ps.FinalPath("fc2-400.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	f, err := ps.OpenPartial("fc2-401.mp4")
	if err != nil {
		t.Fatalf("OpenPartial error: %v", err)
	}
	f.Close()
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	names, err := ps.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	sort.Strings(names)

	want := []string{"fc2-400.mp4", "fc2-401.mp4.part"}
	if len(names) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d: expected %q, got %q", i, want[i], names[i])
		}
	}
}

func TestPartialNameHelpers(t *testing.T) {
	if !IsPartialName("video.mp4.part") {
		t.Errorf("expected .part name to be recognized")
	}
	if IsPartialName("video.mp4") {
		t.Errorf("final name must not be recognized as partial")
	}
	if got := TrimPartialSuffix("video.mp4.part"); got != "video.mp4" {
		t.Errorf("expected 'video.mp4', got %q", got)
	}
	if got := TrimPartialSuffix("video.mp4"); got != "video.mp4" {
		t.Errorf("expected unchanged name, got %q", got)
	}
}
