// Package refresh runs a full acquisition cycle: collect, normalize and
// persist each state's partition, then rebuild the derived documents.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mandi-prices/internal/cache"
	"mandi-prices/internal/metrics"
	"mandi-prices/internal/models"
	"mandi-prices/internal/services/aggregate"
	"mandi-prices/internal/services/fallback"
	"mandi-prices/internal/services/normalize"
	"mandi-prices/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PopularWindowDays is the rolling window for popular commodities.
const PopularWindowDays = 30

// AllStates selects the configured state list.
const AllStates = "ALL"

// Phase is the orchestrator lifecycle state.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseRunning             Phase = "running"
	PhaseCompleted           Phase = "completed"
	PhaseCompletedWithErrors Phase = "completed-with-errors"
	PhaseFailed              Phase = "failed"
)

// Status values reported in Result.RefreshStatus.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Collector is the part of the fallback chain the orchestrator needs.
type Collector interface {
	Collect(ctx context.Context, crit fallback.Criteria) (fallback.Result, error)
}

// Request selects the refresh target. Empty Date means today; empty States
// or ["ALL"] means every configured state.
type Request struct {
	Date   string   `json:"date,omitempty"`
	States []string `json:"states,omitempty"`
}

// StateError is one state's failure.
type StateError struct {
	State string `json:"state"`
	Error string `json:"error"`
}

// Result summarizes a run. RefreshStatus is failed only when every
// targeted state failed.
type Result struct {
	RunID         string       `json:"run_id"`
	Date          string       `json:"date"`
	SuccessCount  int          `json:"success_count"`
	ErrorCount    int          `json:"error_count"`
	Errors        []StateError `json:"errors"`
	RefreshStatus string       `json:"refresh_status"`
	Outcome       Phase        `json:"outcome"`
	Timestamp     string       `json:"timestamp"`
}

// Err returns an error wrapping models.ErrRefreshFailed when the run failed.
func (r *Result) Err() error {
	if r == nil || r.RefreshStatus != StatusFailed {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.State+": "+e.Error)
	}
	return fmt.Errorf("%w: %s", models.ErrRefreshFailed, strings.Join(msgs, "; "))
}

// Options tune an Orchestrator.
type Options struct {
	// States is the list used for "ALL".
	States []string
	// MetaWindowDays is the trailing window the meta index covers.
	MetaWindowDays int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs at most one refresh at a time. States are processed
// sequentially so provider rate limits hold across the whole run.
type Orchestrator struct {
	chain      Collector
	normalizer *normalize.Normalizer
	store      storage.Store
	cache      *cache.Cache
	opts       Options
	log        logrus.FieldLogger

	mu        sync.Mutex
	phase     Phase
	last      *Result
	observers []Observer
}

func New(chain Collector, n *normalize.Normalizer, store storage.Store, c *cache.Cache, opts Options, log logrus.FieldLogger) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MetaWindowDays < 1 {
		opts.MetaWindowDays = 30
	}
	return &Orchestrator{
		chain:      chain,
		normalizer: n,
		store:      store,
		cache:      c,
		opts:       opts,
		log:        log,
		phase:      PhaseIdle,
	}
}

// Phase reports the current lifecycle state.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// LastResult returns the most recent finished run, or nil.
func (o *Orchestrator) LastResult() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase == PhaseRunning {
		return false
	}
	o.phase = PhaseRunning
	return true
}

func (o *Orchestrator) finish(res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phase = PhaseIdle
	if res != nil {
		o.last = res
	}
}

// Refresh runs one cycle. Per-state failures are recorded in the result and
// never returned as an error; the error is non-nil only for an invalid
// request, a concurrent run or a canceled context.
func (o *Orchestrator) Refresh(ctx context.Context, req Request) (*Result, error) {
	date, states, err := o.target(req)
	if err != nil {
		return nil, err
	}
	if !o.begin() {
		return nil, models.ErrRefreshInProgress
	}

	started := o.opts.Now()
	res := &Result{
		RunID:  uuid.NewString(),
		Date:   date,
		Errors: []StateError{},
	}
	log := o.log.WithField("run_id", res.RunID).WithField("date", date)
	log.WithField("states", len(states)).Info("refresh started")
	o.emit(Event{Type: EventStarted, RunID: res.RunID, Date: date, Total: len(states)})

	o.cache.Clear()
	o.markRunning(ctx, log)

	var succeeded []string
	for i, state := range states {
		if err := ctx.Err(); err != nil {
			o.abort(log, res, err)
			return nil, fmt.Errorf("refresh canceled: %w", err)
		}

		records, err := o.refreshState(ctx, date, state, log)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				o.abort(log, res, ctxErr)
				return nil, fmt.Errorf("refresh canceled: %w", ctxErr)
			}
			res.ErrorCount++
			res.Errors = append(res.Errors, StateError{State: state, Error: err.Error()})
			metrics.RecordRefreshState("error")
			log.WithField("state", state).WithError(err).Warn("state refresh failed")
			o.emit(Event{Type: EventStateFailed, RunID: res.RunID, Date: date, State: state, Index: i + 1, Total: len(states), Error: err.Error()})
			continue
		}
		res.SuccessCount++
		succeeded = append(succeeded, state)
		metrics.RecordRefreshState("success")
		o.emit(Event{Type: EventStateDone, RunID: res.RunID, Date: date, State: state, Index: i + 1, Total: len(states), Records: records})
	}

	// Aggregates are rebuilt even when ctx is canceled after the last state.
	o.rebuildAggregates(context.WithoutCancel(ctx), res, succeeded, log)
	o.cache.Clear()

	switch {
	case res.SuccessCount == 0 && len(states) > 0:
		res.RefreshStatus, res.Outcome = StatusFailed, PhaseFailed
	case res.ErrorCount > 0:
		res.RefreshStatus, res.Outcome = StatusCompleted, PhaseCompletedWithErrors
	default:
		res.RefreshStatus, res.Outcome = StatusCompleted, PhaseCompleted
	}
	finished := o.opts.Now()
	res.Timestamp = finished.UTC().Format(time.RFC3339)
	metrics.ObserveRefresh(finished.Sub(started).Seconds())

	log.WithField("success", res.SuccessCount).
		WithField("errors", res.ErrorCount).
		WithField("outcome", res.Outcome).
		Info("refresh finished")
	o.emit(Event{Type: EventFinished, RunID: res.RunID, Date: date, Total: len(states), Outcome: res.Outcome})
	o.finish(res)
	return res, nil
}

func (o *Orchestrator) target(req Request) (string, []string, error) {
	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = models.FormatDate(o.opts.Now())
	}
	if _, err := models.ParseDate(date); err != nil {
		return "", nil, &models.ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", req.Date)}
	}

	var states []string
	seen := map[string]bool{}
	for _, s := range req.States {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, AllStates) {
			states = nil
			break
		}
		if s != "" && !seen[strings.ToLower(s)] {
			seen[strings.ToLower(s)] = true
			states = append(states, s)
		}
	}
	if len(states) == 0 {
		states = append([]string(nil), o.opts.States...)
	}
	if len(states) == 0 {
		return "", nil, &models.ValidationError{Field: "states", Reason: "no states to refresh"}
	}
	return date, states, nil
}

// refreshState collects, normalizes and writes one partition. On any error
// the previously stored partition is left untouched.
func (o *Orchestrator) refreshState(ctx context.Context, date, state string, log logrus.FieldLogger) (int, error) {
	log = log.WithField("state", state)

	collected, err := o.chain.Collect(ctx, fallback.Criteria{Date: date, State: state})
	if err != nil {
		return 0, err
	}

	records, dropped := o.normalizer.NormalizeBatch(collected.Records, state)
	if len(records) == 0 {
		return 0, fmt.Errorf("no valid records after normalization (%d dropped)", dropped)
	}

	// Real data below the threshold is partial, including when mock rows
	// topped it up. A mock-only batch is complete synthetic data.
	mixed := collected.UsedMock && collected.MockRecords < len(collected.Records)
	status := models.FetchSuccess
	if mixed || (!collected.Sufficient && !collected.UsedMock) {
		status = models.FetchPartial
	}
	part := models.NewPartition(date, state, records, status, o.opts.Now())
	if err := o.store.WritePartition(ctx, part); err != nil {
		return 0, err
	}
	log.WithField("records", len(records)).
		WithField("dropped", dropped).
		WithField("fetch_status", status).
		WithField("mock", collected.UsedMock).
		Info("partition written")
	return len(records), nil
}

func (o *Orchestrator) markRunning(ctx context.Context, log logrus.FieldLogger) {
	meta, err := o.store.ReadMeta(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.WithError(err).Warn("reading meta index failed")
		}
		meta = &models.MetaIndex{AvailableDates: []string{}}
	}
	meta.RefreshStatus = models.RefreshRunning
	meta.RefreshError = ""
	if err := o.store.WriteMeta(ctx, meta); err != nil {
		log.WithError(err).Warn("marking meta index running failed")
	}
}

// abort puts the meta index back to idle after cancellation.
func (o *Orchestrator) abort(log logrus.FieldLogger, res *Result, cause error) {
	ctx := context.Background()
	meta, err := o.store.ReadMeta(ctx)
	if err == nil {
		meta.RefreshStatus = models.RefreshIdle
		if werr := o.store.WriteMeta(ctx, meta); werr != nil {
			log.WithError(werr).Warn("resetting meta index failed")
		}
	}
	log.WithError(cause).
		WithField("success", res.SuccessCount).
		WithField("errors", res.ErrorCount).
		Warn("refresh canceled")
	o.emit(Event{Type: EventFinished, RunID: res.RunID, Date: res.Date, Outcome: PhaseIdle, Error: cause.Error()})
	o.finish(nil)
}

// rebuildAggregates recomputes the meta index over the trailing window and
// the popular commodities of every state that succeeded. Failures here are
// logged; partitions are already safely written.
func (o *Orchestrator) rebuildAggregates(ctx context.Context, res *Result, succeeded []string, log logrus.FieldLogger) {
	now := o.opts.Now()
	available, err := o.store.ListAvailableDates(ctx)
	if err != nil {
		log.WithError(err).Warn("listing dates for aggregates failed")
		available = nil
	}

	metaDates := aggregate.WindowDates(available, now, o.opts.MetaWindowDays)
	partitions := o.readPartitions(ctx, metaDates, nil, log)
	meta := aggregate.ComputeMeta(partitions, metaDates, now)
	if res.SuccessCount == 0 && res.ErrorCount > 0 {
		meta.RefreshStatus = models.RefreshError
		meta.RefreshError = fmt.Sprintf("all %d states failed", res.ErrorCount)
	}
	if err := o.store.WriteMeta(ctx, meta); err != nil {
		log.WithError(err).Error("writing meta index failed")
	}

	popularDates := aggregate.WindowDates(available, now, PopularWindowDays)
	for _, state := range succeeded {
		var records []models.PriceRecord
		for _, p := range o.readPartitions(ctx, popularDates, []string{state}, log) {
			records = append(records, p.Records...)
		}
		pc := aggregate.ComputePopular(state, records, now)
		if err := o.store.WritePopular(ctx, pc); err != nil {
			log.WithField("state", state).WithError(err).Error("writing popular commodities failed")
		}
	}
}

// readPartitions loads partitions for dates, restricted to states when
// non-nil. Unreadable partitions are skipped.
func (o *Orchestrator) readPartitions(ctx context.Context, dates, states []string, log logrus.FieldLogger) []*models.DailyStatePartition {
	var out []*models.DailyStatePartition
	for _, date := range dates {
		targets := states
		if targets == nil {
			var err error
			if targets, err = o.store.ListAvailableStates(ctx, date); err != nil {
				log.WithField("date", date).WithError(err).Warn("listing states failed")
				continue
			}
		}
		for _, state := range targets {
			p, err := o.store.ReadPartition(ctx, date, state)
			if err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					log.WithField("date", date).WithField("state", state).WithError(err).Warn("skipping partition")
				}
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
