package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/walhalax/tk-auto-save/internal/domain"
)

// Catalog lists items available for transfer. Implementations own the
// format of the upstream listing; the core only sees CatalogItems.
type Catalog interface {
	Fetch(ctx context.Context) ([]domain.CatalogItem, error)
}

// HTTPCatalog fetches a JSON item listing from a catalog endpoint.
type HTTPCatalog struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPCatalog creates an HTTPCatalog for the given endpoint.
func NewHTTPCatalog(url string, timeout time.Duration, logger *slog.Logger) *HTTPCatalog {
	return &HTTPCatalog{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch downloads and decodes the catalog listing.
func (c *HTTPCatalog) Fetch(ctx context.Context) ([]domain.CatalogItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("catalog fetch failed",
			"url", c.url,
			"error", err,
		)
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("catalog fetch failed",
			"url", c.url,
			"status", resp.Status,
		)
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var items []domain.CatalogItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c.logger.Debug("catalog fetched", "items", len(items))
	return items, nil
}

var _ Catalog = (*HTTPCatalog)(nil)
