package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mandi-prices/internal/cache"
	"mandi-prices/internal/logging"
	"mandi-prices/internal/models"
	"mandi-prices/internal/services/fallback"
	"mandi-prices/internal/services/normalize"
	"mandi-prices/internal/services/query"
	"mandi-prices/internal/services/refresh"
	"mandi-prices/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type collectorFunc func(ctx context.Context, crit fallback.Criteria) (fallback.Result, error)

func (f collectorFunc) Collect(ctx context.Context, crit fallback.Criteria) (fallback.Result, error) {
	return f(ctx, crit)
}

func setup(t *testing.T, chain refresh.Collector) (*gin.Engine, *storage.FileStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := cache.New(nil)
	log := logging.Discard()
	clock := func() time.Time { return now }

	engine := query.NewEngine(store, c, query.TTLs{}, log)
	orch := refresh.New(chain, normalize.New(clock, log), store, c,
		refresh.Options{States: []string{"Tamil Nadu", "Kerala"}, Now: clock}, log)

	r := gin.New()
	SetupRoutes(r.Group("/api/v1"), engine, orch, c, log)
	return r, store
}

func seed(t *testing.T, store *storage.FileStore) {
	t.Helper()
	var records []models.PriceRecord
	for i := 0; i < 25; i++ {
		records = append(records, models.PriceRecord{
			State: "Tamil Nadu", District: "Thanjavur", Market: "M" + string(rune('A'+i)), Commodity: "Rice",
			ModalPrice: models.Price(int64(2000 + i)), Date: "2024-03-01", Source: models.SourceOfficialAPI,
		})
	}
	require.NoError(t, store.WritePartition(context.Background(),
		models.NewPartition("2024-03-01", "Tamil Nadu", records, models.FetchSuccess, now)))
}

func do(r http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func noop() refresh.Collector {
	return collectorFunc(func(context.Context, fallback.Criteria) (fallback.Result, error) {
		return fallback.Result{}, errors.New("unused")
	})
}

func TestListPrices(t *testing.T) {
	r, store := setup(t, noop())
	seed(t, store)

	w := do(r, http.MethodGet, "/api/v1/prices?state=Tamil%20Nadu&commodity=Rice&limit=10&offset=0", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body query.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 10)
	assert.Equal(t, 25, body.Metadata.TotalRecords)
	assert.Equal(t, 25, body.Metadata.FilteredRecords)
	assert.True(t, body.Metadata.Pagination.HasMore)
	assert.Equal(t, "json", body.Metadata.Source)

	w = do(r, http.MethodGet, "/api/v1/prices?state=Tamil%20Nadu&commodity=Rice&limit=10&offset=0", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "cache", body.Metadata.Source)
}

func TestListPrices_BadParams(t *testing.T) {
	r, _ := setup(t, noop())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/prices?limit=ten", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/prices?offset=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/prices?from=01-03-2024", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/prices/facets?date=../..", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/prices/trend?commodity=Rice&from=../x", nil).Code)
}

func TestRefreshEndpoint(t *testing.T) {
	chain := collectorFunc(func(_ context.Context, crit fallback.Criteria) (fallback.Result, error) {
		if crit.State == "Kerala" {
			return fallback.Result{}, &models.SourceUnavailableError{Provider: "all tiers", Err: errors.New("down")}
		}
		return fallback.Result{Records: []models.RawRecord{{
			Source: models.SourceScraper,
			Fields: map[string]any{"market": "Madurai", "commodity": "Onion", "modal_price": "1,800"},
		}}}, nil
	})
	r, _ := setup(t, chain)

	w := do(r, http.MethodPost, "/api/v1/refresh", []byte(`{"date":"2024-03-01","states":["ALL"]}`))
	require.Equal(t, http.StatusOK, w.Code)

	var res refresh.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, "completed", res.RefreshStatus)

	w = do(r, http.MethodGet, "/api/v1/meta", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var meta models.MetaIndex
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, 1, meta.TotalRecords)

	w = do(r, http.MethodGet, "/api/v1/popular/Tamil%20Nadu", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/popular/Kerala", nil).Code)

	w = do(r, http.MethodGet, "/api/v1/refresh/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"idle"`)
}

func TestRefreshEndpoint_SurvivesClientDisconnect(t *testing.T) {
	chain := collectorFunc(func(ctx context.Context, _ fallback.Criteria) (fallback.Result, error) {
		if err := ctx.Err(); err != nil {
			return fallback.Result{}, err
		}
		return fallback.Result{Records: []models.RawRecord{{
			Source: models.SourceScraper,
			Fields: map[string]any{"market": "Kochi", "commodity": "Rice", "modal_price": 3100},
		}}}, nil
	})
	r, _ := setup(t, chain)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var res refresh.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, "completed", res.RefreshStatus)
}

func TestRefreshEndpoint_BadRequest(t *testing.T) {
	r, _ := setup(t, noop())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/refresh", []byte(`{"date":"March"}`)).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/refresh", []byte(`{not json`)).Code)
}

func TestMeta_NotFoundBeforeRefresh(t *testing.T) {
	r, _ := setup(t, noop())
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/meta", nil).Code)
}

func TestFacetsTrendExportAndStats(t *testing.T) {
	r, store := setup(t, noop())
	seed(t, store)

	w := do(r, http.MethodGet, "/api/v1/prices/facets?state=Tamil%20Nadu", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var facets query.Facets
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &facets))
	assert.Equal(t, []string{"Tamil Nadu"}, facets.States)
	assert.Equal(t, []string{"Thanjavur"}, facets.Districts)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/prices/trend", nil).Code)
	w = do(r, http.MethodGet, "/api/v1/prices/trend?commodity=rice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"avg_modal_price":2012`)

	w = do(r, http.MethodGet, "/api/v1/prices/export?commodity=Rice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())

	w = do(r, http.MethodGet, "/api/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.GreaterOrEqual(t, stats.ItemCount, 2)
}
