// Package fetcher talks to the provider's product catalog API. The catalog
// answers prefix searches with a hit count and result pages; the crawler
// layers its segmentation logic on top of this interface.
package fetcher

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// ErrNoResult is returned when a lookup matched nothing.
var ErrNoResult = eris.New("fetcher: no result")

// Page is one window of catalog search results.
type Page struct {
	// TotalHits is the catalog's total match count for the query, not the
	// number of items in this page.
	TotalHits int               `json:"totalHits"`
	Items     []json.RawMessage `json:"items"`
}

// Catalog is the provider search surface the pager runs against.
type Catalog interface {
	// ProbeCount returns the total number of catalog hits for the query
	// without fetching result items.
	ProbeCount(ctx context.Context, query string) (int, error)

	// FetchPage returns one window of results starting at offset. The
	// catalog caps addressable offsets, so callers must keep
	// offset+limit within the provider's result window.
	FetchPage(ctx context.Context, query string, offset, limit int) (*Page, error)
}
