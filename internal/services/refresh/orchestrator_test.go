package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mandi-prices/internal/cache"
	"mandi-prices/internal/logging"
	"mandi-prices/internal/models"
	"mandi-prices/internal/services/fallback"
	"mandi-prices/internal/services/normalize"
	"mandi-prices/internal/services/source"
	"mandi-prices/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type collectorFunc func(ctx context.Context, crit fallback.Criteria) (fallback.Result, error)

func (f collectorFunc) Collect(ctx context.Context, crit fallback.Criteria) (fallback.Result, error) {
	return f(ctx, crit)
}

type harness struct {
	orch  *Orchestrator
	store *storage.FileStore
	cache *cache.Cache
}

func newHarness(t *testing.T, chain Collector, states ...string) *harness {
	t.Helper()
	s, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := cache.New(func() time.Time { return now })
	clock := func() time.Time { return now }
	n := normalize.New(clock, logging.Discard())
	return &harness{
		orch:  New(chain, n, s, c, Options{States: states, MetaWindowDays: 30, Now: clock}, logging.Discard()),
		store: s,
		cache: c,
	}
}

func rows(state string, n int) []models.RawRecord {
	out := make([]models.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.RawRecord{
			Source: models.SourceScraper,
			Fields: map[string]any{
				"Market":      fmt.Sprintf("%s market %d", state, i),
				"Commodity":   "Rice",
				"Modal Price": "Rs. 2,100",
				"District":    "Central",
			},
		})
	}
	return out
}

// threeStateChain is the real fallback chain: the official tier fails for
// every state and the scraper serves Kerala and Punjab but not Bihar.
func threeStateChain() *fallback.Chain {
	official := source.ProviderFunc{
		ProviderName:   "official-api",
		ProviderSource: models.SourceOfficialAPI,
		Fetch: func(context.Context, source.PageParams) ([]models.RawRecord, error) {
			return nil, &models.SourceUnavailableError{Provider: "official-api", Attempts: 4, Err: errors.New("HTTP 503")}
		},
	}
	scraper := source.ProviderFunc{
		ProviderName:   "scraper",
		ProviderSource: models.SourceScraper,
		Fetch: func(_ context.Context, p source.PageParams) ([]models.RawRecord, error) {
			state := p.Filters[source.FilterState]
			if state == "Bihar" {
				return nil, errors.New("selector matched nothing")
			}
			if p.Offset > 0 {
				return nil, nil
			}
			return rows(state, 3), nil
		},
	}
	return fallback.New(fallback.Config{Threshold: 50, PageLimit: 100}, []source.Provider{official, scraper}, nil, logging.Discard())
}

func TestRefresh_PartialSuccessAcrossStates(t *testing.T) {
	h := newHarness(t, threeStateChain(), "Kerala", "Bihar", "Punjab")
	ctx := context.Background()

	res, err := h.orch.Refresh(ctx, Request{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, StatusCompleted, res.RefreshStatus)
	assert.Equal(t, PhaseCompletedWithErrors, res.Outcome)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Bihar", res.Errors[0].State)
	assert.Contains(t, res.Errors[0].Error, "source unavailable")
	assert.Equal(t, "2024-03-01", res.Date)
	assert.Equal(t, now.Format(time.RFC3339), res.Timestamp)
	assert.NotEmpty(t, res.RunID)
	assert.NoError(t, res.Err())
	assert.Equal(t, PhaseIdle, h.orch.Phase())

	kerala, err := h.store.ReadPartition(ctx, "2024-03-01", "Kerala")
	require.NoError(t, err)
	assert.Equal(t, 3, kerala.TotalRecords)
	assert.Equal(t, models.FetchPartial, kerala.FetchStatus)
	assert.Equal(t, "Kerala", kerala.Records[0].State)
	assert.Equal(t, int64(2100), *kerala.Records[0].ModalPrice)

	_, err = h.store.ReadPartition(ctx, "2024-03-01", "Bihar")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	meta, err := h.store.ReadMeta(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RefreshIdle, meta.RefreshStatus)
	assert.Equal(t, 6, meta.TotalRecords)
	assert.Equal(t, 2, meta.StatesCount)
	assert.Equal(t, []string{"2024-03-01"}, meta.AvailableDates)

	pc, err := h.store.ReadPopular(ctx, "Punjab")
	require.NoError(t, err)
	require.Len(t, pc.Top, 1)
	assert.Equal(t, models.PopularCommodity{Commodity: "Rice", Count: 3, AvgModalPrice: 2100}, pc.Top[0])
	_, err = h.store.ReadPopular(ctx, "Bihar")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRefresh_AllStatesFail(t *testing.T) {
	chain := collectorFunc(func(context.Context, fallback.Criteria) (fallback.Result, error) {
		return fallback.Result{}, &models.SourceUnavailableError{Provider: "all tiers", Err: errors.New("offline")}
	})
	h := newHarness(t, chain, "Kerala", "Bihar")

	res, err := h.orch.Refresh(context.Background(), Request{States: []string{"ALL"}})
	require.NoError(t, err)

	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, StatusFailed, res.RefreshStatus)
	assert.Equal(t, PhaseFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err(), models.ErrRefreshFailed))

	meta, err := h.store.ReadMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RefreshError, meta.RefreshStatus)
	assert.NotEmpty(t, meta.RefreshError)
}

func TestRefresh_FailureKeepsPreviousPartition(t *testing.T) {
	chain := collectorFunc(func(_ context.Context, crit fallback.Criteria) (fallback.Result, error) {
		return fallback.Result{}, errors.New("down")
	})
	h := newHarness(t, chain, "Goa")
	ctx := context.Background()

	old := models.NewPartition("2024-03-01", "Goa", []models.PriceRecord{{
		State: "Goa", District: "North Goa", Market: "Mapusa", Commodity: "Coconut",
		ModalPrice: models.Price(1500), Date: "2024-03-01", Source: models.SourceScraper,
		ScrapedAt: now.Add(-24 * time.Hour),
	}}, models.FetchSuccess, now.Add(-24*time.Hour))
	require.NoError(t, h.store.WritePartition(ctx, old))

	res, err := h.orch.Refresh(ctx, Request{Date: "2024-03-01"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.RefreshStatus)

	got, err := h.store.ReadPartition(ctx, "2024-03-01", "Goa")
	require.NoError(t, err)
	assert.Equal(t, old, got)
}

func TestRefresh_DropsInvalidRecordsAndMarksMock(t *testing.T) {
	chain := collectorFunc(func(_ context.Context, crit fallback.Criteria) (fallback.Result, error) {
		batch := source.NewMockProvider(0).Batch(crit.Date, crit.State)
		batch = append(batch, models.RawRecord{
			Source: models.SourceMock,
			Fields: map[string]any{"market": "Bad", "commodity": "Rice", "min_price": 10, "max_price": 20, "modal_price": 99},
		})
		return fallback.Result{Records: batch, UsedMock: true, MockRecords: len(batch)}, nil
	})
	h := newHarness(t, chain, "Kerala")

	res, err := h.orch.Refresh(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, res.Outcome)

	p, err := h.store.ReadPartition(context.Background(), "2024-03-01", "Kerala")
	require.NoError(t, err)
	assert.Equal(t, models.FetchSuccess, p.FetchStatus)
	assert.Equal(t, source.DefaultMockBatchSize, p.TotalRecords)
	for _, r := range p.Records {
		assert.True(t, r.PriceOrderValid())
		assert.NotEqual(t, "Bad", r.Market)
	}
}

func TestRefresh_MockTopUpIsPartial(t *testing.T) {
	chain := collectorFunc(func(_ context.Context, crit fallback.Criteria) (fallback.Result, error) {
		mock := source.NewMockProvider(0).Batch(crit.Date, crit.State)
		records := append(rows(crit.State, 5), mock...)
		return fallback.Result{Records: records, Sufficient: true, UsedMock: true, MockRecords: len(mock)}, nil
	})
	h := newHarness(t, chain, "Kerala")

	_, err := h.orch.Refresh(context.Background(), Request{})
	require.NoError(t, err)

	p, err := h.store.ReadPartition(context.Background(), "2024-03-01", "Kerala")
	require.NoError(t, err)
	assert.Equal(t, models.FetchPartial, p.FetchStatus)
	assert.Equal(t, 5+source.DefaultMockBatchSize, p.TotalRecords)
	assert.Equal(t, models.SourceScraper, p.Records[0].Source)
}

func TestRefresh_ClearsCache(t *testing.T) {
	var cacheSeen bool
	var h *harness
	chain := collectorFunc(func(context.Context, fallback.Criteria) (fallback.Result, error) {
		cacheSeen = h.cache.Has("listing:stale")
		return fallback.Result{Records: rows("Kerala", 2)}, nil
	})
	h = newHarness(t, chain, "Kerala")
	h.cache.Set("listing:stale", []int{1}, time.Hour)

	_, err := h.orch.Refresh(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, cacheSeen)
	assert.False(t, h.cache.Has("listing:stale"))
}

func TestRefresh_RejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	chain := collectorFunc(func(context.Context, fallback.Criteria) (fallback.Result, error) {
		close(entered)
		<-release
		return fallback.Result{Records: rows("Kerala", 1)}, nil
	})
	h := newHarness(t, chain, "Kerala")

	var wg sync.WaitGroup
	wg.Add(1)
	var first *Result
	go func() {
		defer wg.Done()
		first, _ = h.orch.Refresh(context.Background(), Request{})
	}()

	<-entered
	assert.Equal(t, PhaseRunning, h.orch.Phase())
	_, err := h.orch.Refresh(context.Background(), Request{})
	assert.True(t, errors.Is(err, models.ErrRefreshInProgress))

	close(release)
	wg.Wait()
	require.NotNil(t, first)
	assert.Equal(t, 1, first.SuccessCount)
	assert.Equal(t, first, h.orch.LastResult())
}

func TestRefresh_CancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	chain := collectorFunc(func(ctx context.Context, _ fallback.Criteria) (fallback.Result, error) {
		calls++
		cancel()
		return fallback.Result{}, ctx.Err()
	})
	h := newHarness(t, chain, "Kerala", "Punjab", "Bihar")

	res, err := h.orch.Refresh(ctx, Request{})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
	assert.Equal(t, PhaseIdle, h.orch.Phase())

	meta, err := h.store.ReadMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RefreshIdle, meta.RefreshStatus)
}

func TestRefresh_CancelAfterLastStateStillRebuildsAggregates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chain := collectorFunc(func(context.Context, fallback.Criteria) (fallback.Result, error) {
		return fallback.Result{Records: rows("Kerala", 4), Sufficient: true}, nil
	})
	h := newHarness(t, chain, "Kerala")
	h.orch.Subscribe(func(ev Event) {
		if ev.Type == EventStateDone {
			cancel()
		}
	})

	res, err := h.orch.Refresh(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.RefreshStatus)
	assert.Equal(t, PhaseIdle, h.orch.Phase())

	meta, err := h.store.ReadMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RefreshIdle, meta.RefreshStatus)
	assert.Equal(t, []string{"2024-03-01"}, meta.AvailableDates)

	popular, err := h.store.ReadPopular(context.Background(), "Kerala")
	require.NoError(t, err)
	require.NotEmpty(t, popular.Top)
	assert.Equal(t, "Rice", popular.Top[0].Commodity)
}

func TestRefresh_EmitsProgressEvents(t *testing.T) {
	h := newHarness(t, threeStateChain(), "Kerala", "Bihar")
	var types []string
	h.orch.Subscribe(func(ev Event) { types = append(types, ev.Type) })

	_, err := h.orch.Refresh(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{EventStarted, EventStateDone, EventStateFailed, EventFinished}, types)
}

func TestRefresh_RequestValidation(t *testing.T) {
	chain := collectorFunc(func(context.Context, fallback.Criteria) (fallback.Result, error) {
		return fallback.Result{}, nil
	})
	h := newHarness(t, chain)

	_, err := h.orch.Refresh(context.Background(), Request{Date: "01/03/2024", States: []string{"Goa"}})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = h.orch.Refresh(context.Background(), Request{})
	assert.True(t, errors.Is(err, models.ErrValidation))

	date, states, err := h.orch.target(Request{States: []string{" Goa", "goa", "Kerala"}})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", date)
	assert.Equal(t, []string{"Goa", "Kerala"}, states)
}
