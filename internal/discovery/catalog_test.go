package discovery

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPCatalog_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := `[
			{"id": "fc2-1234567", "title": "first", "source_ref": "http://cdn.example.com/a.mp4", "published": "2026-08-01T00:00:00Z", "rating": 85},
			{"id": "fc2-1234568", "title": "second", "source_ref": "http://cdn.example.com/b.mp4", "published": "2026-08-02T00:00:00Z", "rating": 91}
		]`
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := NewHTTPCatalog(server.URL, 5*time.Second, logger)

	items, err := catalog.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "fc2-1234567" {
		t.Errorf("expected first item id fc2-1234567, got %q", items[0].ID)
	}
	if items[1].Rating != 91 {
		t.Errorf("expected second item rating 91, got %d", items[1].Rating)
	}
}

func TestHTTPCatalog_FetchBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := NewHTTPCatalog(server.URL, 5*time.Second, logger)

	if _, err := catalog.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 503 response, got nil")
	}
}

func TestHTTPCatalog_FetchBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.WriteString(w, "{not an array"); err != nil {
			t.Fatalf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := NewHTTPCatalog(server.URL, 5*time.Second, logger)

	if _, err := catalog.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for malformed catalog, got nil")
	}
}
