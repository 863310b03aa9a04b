package source

import (
	"context"

	"mandi-prices/internal/models"
)

// Paginate walks provider pages with offset += limit while each page comes
// back full and fewer than maxRecords rows have been collected. A short page
// or the cap ends the loop. On error the rows gathered so far are returned
// with it.
func Paginate(ctx context.Context, p Provider, filters map[string]string, limit, maxRecords int) ([]models.RawRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var all []models.RawRecord
	for offset := 0; ; offset += limit {
		page, err := p.FetchPage(ctx, PageParams{Offset: offset, Limit: limit, Filters: filters})
		if err != nil {
			return all, err
		}
		all = append(all, page...)

		if maxRecords > 0 && len(all) >= maxRecords {
			return all[:maxRecords], nil
		}
		if len(page) < limit {
			return all, nil
		}
	}
}
