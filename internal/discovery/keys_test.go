package discovery

import (
	"testing"

	"github.com/walhalax/tk-auto-save/internal/domain"
)

func TestRemoteFolder(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"fc2-1234567", "fc2-120"},
		{"fc2-9876543", "fc2-980"},
		{"fc2-123", "fc2-120"},
		{"fc2-42", "fc2-40"},
		{"fc2-7", "fc2-0"},
		{"1234567", "120"},
		{"abc", "abc-0"},
		{"ppv_4567890", "ppv-450"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := RemoteFolder(tt.id); got != tt.want {
				t.Errorf("RemoteFolder(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestPayloadFilename(t *testing.T) {
	tests := []struct {
		name string
		item domain.CatalogItem
		want string
	}{
		{
			name: "extension from source path",
			item: domain.CatalogItem{ID: "fc2-1", SourceRef: "http://cdn.example.com/v/file.mp4"},
			want: "fc2-1.mp4",
		},
		{
			name: "query string ignored",
			item: domain.CatalogItem{ID: "fc2-2", SourceRef: "http://cdn.example.com/file.mkv?token=abc"},
			want: "fc2-2.mkv",
		},
		{
			name: "no extension falls back to dat",
			item: domain.CatalogItem{ID: "fc2-3", SourceRef: "http://cdn.example.com/stream/98765"},
			want: "fc2-3.dat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PayloadFilename(tt.item); got != tt.want {
				t.Errorf("PayloadFilename = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskIDFromFilename(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantID string
		wantOK bool
	}{
		{"final payload", "fc2-1234567.mp4", "fc2-1234567", true},
		{"partial payload", "fc2-1234567.mp4.part", "fc2-1234567", true},
		{"no extension", "fc2-1234567", "fc2-1234567", true},
		{"space in name", "some file.mp4", "", false},
		{"bare partial suffix", ".part", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := TaskIDFromFilename(tt.input)
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("TaskIDFromFilename(%q) = (%q, %v), want (%q, %v)", tt.input, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestRemoteKey(t *testing.T) {
	got := RemoteKey("fc2-1234567", "fc2-1234567.mp4")
	want := "fc2-120/fc2-1234567.mp4"
	if got != want {
		t.Errorf("RemoteKey = %q, want %q", got, want)
	}
}
