package enrich

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/glarus-data/instrument-cli/internal/model"
	"github.com/glarus-data/instrument-cli/internal/parser"
)

// ISINLookup is the single-item view of the catalog API.
type ISINLookup interface {
	FetchByISIN(ctx context.Context, isin string) (json.RawMessage, error)
}

// CatalogSource adapts the catalog API to the driver's Source: look the
// ISIN up, parse the item into a partial record.
type CatalogSource struct {
	Catalog ISINLookup
}

func (s *CatalogSource) FetchInstrument(ctx context.Context, isin string) (*model.Instrument, error) {
	raw, err := s.Catalog.FetchByISIN(ctx, isin)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: fetch by isin")
	}
	rec, err := parser.ParseCatalogItem(raw)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: parse item")
	}
	return rec, nil
}
