// Package fallback walks provider tiers in priority order until enough
// price rows have been collected.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"mandi-prices/internal/metrics"
	"mandi-prices/internal/models"
	"mandi-prices/internal/services/source"

	"github.com/sirupsen/logrus"
)

// DefaultThreshold is the record count at which a tier is "good enough".
const DefaultThreshold = 50

type Config struct {
	// Threshold stops the chain once this many rows are accumulated.
	Threshold int
	// PageLimit is the page size used when paginating a tier.
	PageLimit int
	// MaxRecords caps rows collected for one criteria across all tiers.
	MaxRecords int
}

// Criteria selects the rows a chain run should gather.
type Criteria struct {
	Date  string
	State string
}

// TierOutcome classifies how one tier went.
type TierOutcome string

const (
	TierSufficient   TierOutcome = "sufficient"
	TierInsufficient TierOutcome = "insufficient"
	TierFailed       TierOutcome = "failed"
	TierSkipped      TierOutcome = "skipped"
)

// TierReport records what one tier contributed.
type TierReport struct {
	Provider string
	Source   models.Source
	Records  int
	Outcome  TierOutcome
	Err      error
}

// Result is the outcome of one chain run. Records keep tier order, so rows
// from higher-priority providers come first and mock rows come last.
type Result struct {
	Records     []models.RawRecord
	Reports     []TierReport
	Sufficient  bool
	UsedMock    bool
	MockRecords int
}

// ShouldAdvanceTier reports whether the chain must try the next tier.
func ShouldAdvanceTier(accumulated, threshold int) bool {
	return accumulated < threshold
}

// Chain tries real tiers in order, then the mock generator as a last resort.
type Chain struct {
	tiers []source.Provider
	mock  source.Provider
	cfg   Config
	log   logrus.FieldLogger
}

// New builds a chain. tiers are in priority order; mock may be nil to disable
// synthetic data.
func New(cfg Config, tiers []source.Provider, mock source.Provider, log logrus.FieldLogger) *Chain {
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.PageLimit < 1 {
		cfg.PageLimit = 100
	}
	return &Chain{tiers: tiers, mock: mock, cfg: cfg, log: log}
}

// Collect gathers raw rows for criteria. Tier failures are logged and
// reported but never abort the run. When the real tiers stay below the
// threshold the mock, if configured, tops the result up. The error is
// non-nil only when nothing at all was collected or ctx was canceled.
func (c *Chain) Collect(ctx context.Context, crit Criteria) (Result, error) {
	var res Result
	filters := map[string]string{
		source.FilterState: crit.State,
		source.FilterDate:  crit.Date,
	}
	log := c.log.WithField("state", crit.State).WithField("date", crit.Date)

	var tierErrs []error
	for _, p := range c.tiers {
		if !ShouldAdvanceTier(len(res.Records), c.cfg.Threshold) {
			break
		}
		remaining := 0
		if c.cfg.MaxRecords > 0 {
			remaining = c.cfg.MaxRecords - len(res.Records)
			if remaining <= 0 {
				break
			}
		}

		rows, err := source.Paginate(ctx, p, filters, c.cfg.PageLimit, remaining)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}

		report := TierReport{Provider: p.Name(), Source: p.Source(), Records: len(rows)}
		switch {
		case errors.Is(err, source.ErrNoTarget):
			report.Outcome = TierSkipped
			log.WithField("provider", p.Name()).Debug("tier has no target, skipping")
		case err != nil:
			report.Outcome = TierFailed
			report.Err = err
			tierErrs = append(tierErrs, err)
			log.WithError(err).
				WithField("provider", p.Name()).
				WithField("partial_records", len(rows)).
				Warn("provider tier failed, falling through")
		default:
			res.Records = append(res.Records, rows...)
			if ShouldAdvanceTier(len(res.Records), c.cfg.Threshold) {
				report.Outcome = TierInsufficient
			} else {
				report.Outcome = TierSufficient
			}
			log.WithField("provider", p.Name()).
				WithField("records", len(rows)).
				WithField("accumulated", len(res.Records)).
				Info("provider tier collected")
		}
		if report.Outcome == TierFailed && len(rows) > 0 {
			// keep rows from pages fetched before the failure
			res.Records = append(res.Records, rows...)
		}
		metrics.RecordTier(p.Name(), string(report.Outcome))
		res.Reports = append(res.Reports, report)
	}

	res.Sufficient = !ShouldAdvanceTier(len(res.Records), c.cfg.Threshold)
	if res.Sufficient || c.mock == nil {
		if len(res.Records) > 0 {
			return res, nil
		}
		return res, &models.SourceUnavailableError{
			Provider: "all tiers",
			Attempts: len(res.Reports),
			Err:      summarize(tierErrs),
		}
	}

	// Real tiers failed or fell short: mock rows are appended after the real
	// ones, so real rows win any identity clash during normalization.
	remaining := 0
	if c.cfg.MaxRecords > 0 {
		remaining = c.cfg.MaxRecords - len(res.Records)
	}
	var rows []models.RawRecord
	var err error
	if c.cfg.MaxRecords <= 0 || remaining > 0 {
		rows, err = source.Paginate(ctx, c.mock, filters, c.cfg.PageLimit, remaining)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
	}
	report := TierReport{Provider: c.mock.Name(), Source: c.mock.Source(), Records: len(rows), Outcome: TierSufficient}
	if err != nil {
		report.Outcome, report.Err = TierFailed, err
		tierErrs = append(tierErrs, err)
	}
	metrics.RecordTier(c.mock.Name(), string(report.Outcome))
	res.Reports = append(res.Reports, report)
	if len(rows) > 0 {
		log.WithField("real_records", len(res.Records)).
			WithField("mock_records", len(rows)).
			Warn("real providers insufficient, topping up with mock data")
		res.Records = append(res.Records, rows...)
		res.MockRecords = len(rows)
		res.UsedMock = true
		res.Sufficient = !ShouldAdvanceTier(len(res.Records), c.cfg.Threshold)
	}
	if len(res.Records) > 0 {
		return res, nil
	}

	return res, &models.SourceUnavailableError{
		Provider: "all tiers",
		Attempts: len(res.Reports),
		Err:      summarize(tierErrs),
	}
}

func summarize(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("no provider returned records")
	}
	return errors.Join(errs...)
}
