package storage

import (
	"os"
	"path/filepath"
	"strings"
)

// PartialSuffix marks an incomplete payload file on disk.
const PartialSuffix = ".part"

// PayloadStore manages payload files in the local spool directory.
// A file carrying the .part suffix is always an incomplete download; the
// rename to the final name is the durability boundary for a fetch.
type PayloadStore struct {
	dir string
}

// NewPayloadStore creates a PayloadStore rooted at dir.
func NewPayloadStore(dir string) *PayloadStore {
	return &PayloadStore{dir: dir}
}

// Dir returns the spool directory.
func (s *PayloadStore) Dir() string {
	return s.dir
}

// FinalPath returns the on-disk path for a completed payload.
func (s *PayloadStore) FinalPath(name string) string {
	return filepath.Join(s.dir, name)
}

// PartialPath returns the on-disk path for an in-progress payload.
func (s *PayloadStore) PartialPath(name string) string {
	return filepath.Join(s.dir, name+PartialSuffix)
}

// OpenPartial opens the partial file for appending, creating it if needed.
func (s *PayloadStore) OpenPartial(name string) (*os.File, error) {
	return os.OpenFile(s.PartialPath(name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

// PartialSize returns the current size of the partial file, 0 if absent.
func (s *PayloadStore) PartialSize(name string) int64 {
	info, err := os.Stat(s.PartialPath(name))
	if err != nil {
		return 0
	}
	return info.Size()
}

// Promote atomically renames the partial file to its final name.
func (s *PayloadStore) Promote(name string) (string, error) {
	final := s.FinalPath(name)
	if err := os.Rename(s.PartialPath(name), final); err != nil {
		return "", err
	}
	return final, nil
}

// DiscardPartial removes the partial file. Missing files are not an error.
func (s *PayloadStore) DiscardPartial(name string) error {
	err := os.Remove(s.PartialPath(name))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Exists checks whether a completed payload file exists.
func (s *PayloadStore) Exists(name string) bool {
	_, err := os.Stat(s.FinalPath(name))
	return err == nil
}

// Size returns the size of a completed payload file in bytes.
func (s *PayloadStore) Size(name string) (int64, error) {
	info, err := os.Stat(s.FinalPath(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// List returns the names of all regular files in the spool directory,
// partials included.
func (s *PayloadStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// IsPartialName reports whether a file name carries the partial suffix.
func IsPartialName(name string) bool {
	return strings.HasSuffix(name, PartialSuffix)
}

// TrimPartialSuffix strips the partial suffix from a file name if present.
func TrimPartialSuffix(name string) string {
	return strings.TrimSuffix(name, PartialSuffix)
}
