package source

import (
	"context"
	"errors"

	"mandi-prices/internal/models"
)

// Canonical filter keys understood by every provider.
const (
	FilterState = "state"
	FilterDate  = "date" // YYYY-MM-DD
)

// ErrNoTarget means a provider has nothing configured for the requested
// filters (e.g. no regional API for that state). It is a skip, not a failure.
var ErrNoTarget = errors.New("no upstream target configured")

// PageParams selects one page of upstream rows.
type PageParams struct {
	Offset  int
	Limit   int
	Filters map[string]string
}

// Provider fetches one page of raw rows from one upstream.
type Provider interface {
	Name() string
	Source() models.Source
	FetchPage(ctx context.Context, page PageParams) ([]models.RawRecord, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ProviderName   string
	ProviderSource models.Source
	Fetch          func(ctx context.Context, page PageParams) ([]models.RawRecord, error)
}

func (f ProviderFunc) Name() string          { return f.ProviderName }
func (f ProviderFunc) Source() models.Source { return f.ProviderSource }

func (f ProviderFunc) FetchPage(ctx context.Context, page PageParams) ([]models.RawRecord, error) {
	if f.Fetch == nil {
		return nil, nil
	}
	return f.Fetch(ctx, page)
}
