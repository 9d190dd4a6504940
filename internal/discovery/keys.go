package discovery

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/walhalax/tk-auto-save/internal/domain"
	"github.com/walhalax/tk-auto-save/internal/storage"
)

var (
	idPattern      = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	trailingDigits = regexp.MustCompile(`\d+$`)
)

// ValidTaskID reports whether an ID can round-trip through a payload
// filename. Dots are excluded so the extension can be stripped back off.
func ValidTaskID(id string) bool {
	return idPattern.MatchString(id)
}

// PayloadFilename names the on-disk payload for an item: the task ID plus
// the extension of the source URL path, ".dat" when none can be derived.
func PayloadFilename(item domain.CatalogItem) string {
	ext := ".dat"
	if u, err := url.Parse(item.SourceRef); err == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return item.ID + ext
}

// TaskIDFromFilename recovers the task ID from a payload file name,
// partial or final. Returns false when the name cannot belong to a payload
// this module produced.
func TaskIDFromFilename(name string) (string, bool) {
	name = storage.TrimPartialSuffix(name)
	id := strings.TrimSuffix(name, path.Ext(name))
	if !ValidTaskID(id) {
		return "", false
	}
	return id, true
}

// RemoteFolder buckets an ID into its destination folder on the file hub.
// The trailing digit run is the article number; its first three digits with
// the last of them zeroed form the bucket, so 1234567 maps to 120. Whatever
// precedes the article number survives as a series prefix.
func RemoteFolder(id string) string {
	bucket := "0"
	prefix := id
	if m := trailingDigits.FindString(id); m != "" {
		prefix = strings.TrimRight(id[:len(id)-len(m)], "-_")
		if len(m) > 3 {
			m = m[:3]
		}
		bucket = m[:len(m)-1] + "0"
	}

	if prefix == "" {
		return bucket
	}
	return prefix + "-" + bucket
}

// RemoteKey is the object key for an item's payload, relative to the
// configured base path.
func RemoteKey(id, filename string) string {
	return RemoteFolder(id) + "/" + filename
}
