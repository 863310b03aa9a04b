package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"mandi-prices/internal/config"
	"mandi-prices/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfficialProvider_FetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/resource/res-1", r.URL.Path)
		assert.Equal(t, "secret", q.Get("api-key"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "100", q.Get("offset"))
		assert.Equal(t, "50", q.Get("limit"))
		assert.Equal(t, "Kerala", q.Get("filters[state]"))
		assert.Equal(t, "01/03/2024", q.Get("filters[arrival_date]"))
		_, _ = w.Write([]byte(`{"status":"ok","records":[
			{"State":"Kerala","District":"Ernakulam","Market":"Aluva","Commodity":"Banana","Modal_x0020_Price":"1800"},
			"garbage",
			{"State":"Kerala","Market":"Kochi","Commodity":"Rice","Modal_x0020_Price":2400}
		]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(0)
	p := NewOfficialProvider(c, srv.URL+"/", "res-1", "secret")

	rows, err := p.FetchPage(context.Background(), PageParams{
		Offset:  100,
		Limit:   50,
		Filters: map[string]string{FilterState: "Kerala", FilterDate: "2024-03-01"},
	})

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.SourceOfficialAPI, rows[0].Source)
	assert.Equal(t, "Aluva", rows[0].Fields["Market"])
	assert.Equal(t, float64(2400), rows[1].Fields["Modal_x0020_Price"])
}

func TestOfficialProvider_MissingRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"invalid key"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(0)
	p := NewOfficialProvider(c, srv.URL, "res-1", "bad")

	_, err := p.FetchPage(context.Background(), PageParams{Limit: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errMissingRecords))
}

func TestStateAPIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("date"))
		_, _ = w.Write([]byte(`{"records":[{"market":"Ludhiana","commodity":"Wheat","modal_price":"2,275"}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(0)
	p := NewStateAPIProvider(c, map[string]string{"Punjab": srv.URL})

	rows, err := p.FetchPage(context.Background(), PageParams{
		Limit:   10,
		Filters: map[string]string{FilterState: "Punjab", FilterDate: "2024-03-01"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Punjab", rows[0].Fields["state"])
	assert.Equal(t, models.SourceStateAPI, rows[0].Source)

	_, err = p.FetchPage(context.Background(), PageParams{
		Limit:   10,
		Filters: map[string]string{FilterState: "Goa"},
	})
	assert.True(t, errors.Is(err, ErrNoTarget))
}

const scrapeHTML = `<html><body>
<table id="prices">
  <tr><th>Market</th><th>Commodity</th><th>Min</th><th>Max</th><th>Modal</th></tr>
  <tr><td class="m">Koyambedu</td><td class="c">Rice</td><td class="lo">₹ 2,000</td><td class="hi">2,400</td><td class="mo">2,200</td></tr>
  <tr><td class="m">Madurai</td><td class="c">Onion</td><td class="lo">1,500</td><td class="hi">1,900</td><td class="mo">1,700</td></tr>
</table>
</body></html>`

func scrapeTarget(url, pageParam string) config.ScrapeTarget {
	return config.ScrapeTarget{
		State:       "Tamil Nadu",
		URL:         url,
		RowSelector: "table#prices tr",
		PageParam:   pageParam,
		Fields: map[string]string{
			"market":      "td.m",
			"commodity":   "td.c",
			"min_price":   "td.lo",
			"max_price":   "td.hi",
			"modal_price": "td.mo",
		},
	}
}

func TestScraperProvider_SinglePage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(scrapeHTML))
	}))
	defer srv.Close()

	c, _ := newTestClient(0)
	p := NewScraperProvider(c, map[string]config.ScrapeTarget{"Tamil Nadu": scrapeTarget(srv.URL, "")})
	filters := map[string]string{FilterState: "Tamil Nadu"}

	rows, err := p.FetchPage(context.Background(), PageParams{Limit: 2, Filters: filters})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Koyambedu", rows[0].Fields["market"])
	assert.Equal(t, "₹ 2,000", rows[0].Fields["min_price"])
	assert.Equal(t, "Tamil Nadu", rows[0].Fields["state"])
	assert.Equal(t, models.SourceScraper, rows[1].Source)

	more, err := p.FetchPage(context.Background(), PageParams{Offset: 2, Limit: 2, Filters: filters})
	require.NoError(t, err)
	assert.Empty(t, more)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScraperProvider_PageParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(scrapeHTML))
	}))
	defer srv.Close()

	c, _ := newTestClient(0)
	p := NewScraperProvider(c, map[string]config.ScrapeTarget{"Tamil Nadu": scrapeTarget(srv.URL, "page")})

	rows, err := p.FetchPage(context.Background(), PageParams{
		Offset:  20,
		Limit:   10,
		Filters: map[string]string{FilterState: "Tamil Nadu"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestScraperProvider_SitePageSizeBelowLimit(t *testing.T) {
	const total, perPage = 60, 25
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n, err := strconv.Atoi(r.URL.Query().Get("page"))
		assert.NoError(t, err)
		var b strings.Builder
		b.WriteString(`<table id="prices"><tr><th>Market</th></tr>`)
		for i := (n - 1) * perPage; i < n*perPage && i < total; i++ {
			fmt.Fprintf(&b, `<tr><td class="m">Market %d</td><td class="c">Rice</td><td class="mo">2000</td></tr>`, i)
		}
		b.WriteString(`</table>`)
		_, _ = w.Write([]byte(b.String()))
	}))
	defer srv.Close()

	target := scrapeTarget(srv.URL, "page")
	target.PageSize = perPage
	c, _ := newTestClient(0)
	p := NewScraperProvider(c, map[string]config.ScrapeTarget{"Tamil Nadu": target})

	rows, err := Paginate(context.Background(), p, map[string]string{FilterState: "Tamil Nadu"}, 100, 0)
	require.NoError(t, err)
	require.Len(t, rows, total)
	assert.Equal(t, "Market 0", rows[0].Fields["market"])
	assert.Equal(t, "Market 59", rows[total-1].Fields["market"])
	assert.Equal(t, int32(3), calls.Load())

	// An offset inside a site page skips the rows already served.
	rows, err = p.FetchPage(context.Background(), PageParams{
		Offset: 30, Limit: 10, Filters: map[string]string{FilterState: "Tamil Nadu"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, "Market 30", rows[0].Fields["market"])
}

func TestScraperProvider_NoTarget(t *testing.T) {
	c, _ := newTestClient(0)
	p := NewScraperProvider(c, nil)

	_, err := p.FetchPage(context.Background(), PageParams{Limit: 10, Filters: map[string]string{FilterState: "Bihar"}})
	assert.True(t, errors.Is(err, ErrNoTarget))
}

func TestMockProvider_Deterministic(t *testing.T) {
	p := NewMockProvider(0)

	a := p.Batch("2024-03-01", "Kerala")
	b := p.Batch("2024-03-01", "Kerala")
	other := p.Batch("2024-03-01", "Punjab")

	require.Len(t, a, DefaultMockBatchSize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, modalPrices(a), modalPrices(other))

	for _, row := range a {
		minPrice := row.Fields["min_price"].(int64)
		maxPrice := row.Fields["max_price"].(int64)
		modal := row.Fields["modal_price"].(int64)
		assert.LessOrEqual(t, minPrice, modal)
		assert.LessOrEqual(t, modal, maxPrice)
		assert.Equal(t, models.SourceMock, row.Source)
		assert.Equal(t, "Kerala", row.Fields["state"])
	}
}

func modalPrices(rows []models.RawRecord) []int64 {
	out := make([]int64, len(rows))
	for i, row := range rows {
		out[i] = row.Fields["modal_price"].(int64)
	}
	return out
}

func TestMockProvider_Pages(t *testing.T) {
	p := NewMockProvider(25)
	filters := map[string]string{FilterState: "Bihar", FilterDate: "2024-03-01"}

	rows, err := Paginate(context.Background(), p, filters, 10, 0)

	require.NoError(t, err)
	assert.Len(t, rows, 25)
	assert.Equal(t, p.Batch("2024-03-01", "Bihar"), rows)
}
