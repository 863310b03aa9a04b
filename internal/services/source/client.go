// Package source fetches raw price rows from upstream providers.
package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mandi-prices/internal/metrics"
	"mandi-prices/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ClientConfig controls timeouts, retries and pacing for one provider.
type ClientConfig struct {
	Name              string
	Timeout           time.Duration
	Retries           int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	RequestsPerSecond float64 // <= 0 disables pacing
	UserAgent         string
}

// Request is a single upstream GET.
type Request struct {
	URL     string
	Query   map[string]string
	Headers map[string]string
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// Client performs upstream calls with a hard per-attempt timeout, retry with
// exponential backoff, Retry-After compliance and request pacing.
type Client struct {
	name    string
	http    *resty.Client
	timeout time.Duration
	retries int
	base    time.Duration
	cap     time.Duration
	limiter *rate.Limiter
	sleep   sleepFunc
	now     func() time.Time
	log     logrus.FieldLogger
}

func NewClient(cfg ClientConfig, log logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mandi-prices/1.0"
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	httpClient := resty.New()
	httpClient.SetHeader("User-Agent", cfg.UserAgent)

	return &Client{
		name:    cfg.Name,
		http:    httpClient,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		base:    cfg.BackoffBase,
		cap:     cfg.BackoffCap,
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepContext,
		now:     time.Now,
		log:     log.WithField("provider", cfg.Name),
	}
}

// Name returns the provider label used in logs, metrics and errors.
func (c *Client) Name() string { return c.name }

// Do issues req and returns the response body of the first 2xx answer.
// Cancellation of ctx aborts at once and is never retried; the returned error
// then wraps ctx.Err(). Exhausted retries yield *models.SourceUnavailableError.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, c.canceled(err)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, c.canceled(ctxErr)
			}
			return nil, c.canceled(err)
		}

		attempts++
		body, status, header, err := c.once(ctx, req)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.canceled(ctxErr)
		}
		metrics.RecordUpstream(c.name, status)

		var wait time.Duration
		var reason string
		switch {
		case err != nil:
			lastErr = err
			wait, reason = c.backoff(attempt), "transport"
		case status >= 200 && status < 300:
			return body, nil
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (HTTP %d)", status)
			reason = "rate_limited"
			if d, ok := parseRetryAfter(header.Get("Retry-After"), c.now()); ok {
				wait = d
			} else {
				wait = c.backoff(attempt)
			}
		case status >= 500:
			lastErr = fmt.Errorf("upstream error (HTTP %d)", status)
			wait, reason = c.backoff(attempt), "server_error"
		default:
			return nil, &models.SourceUnavailableError{
				Provider: c.name,
				Attempts: attempts,
				Err:      fmt.Errorf("unexpected HTTP %d", status),
			}
		}

		if attempt == c.retries {
			break
		}
		c.log.WithError(lastErr).
			WithField("attempt", attempt+1).
			WithField("wait", wait.String()).
			Warn("upstream request failed, retrying")
		metrics.RecordRetry(c.name, reason)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, c.canceled(err)
		}
	}

	return nil, &models.SourceUnavailableError{Provider: c.name, Attempts: attempts, Err: lastErr}
}

func (c *Client) once(ctx context.Context, req Request) ([]byte, int, http.Header, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r := c.http.R().SetContext(attemptCtx)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}

	resp, err := r.Get(req.URL)
	if err != nil {
		return nil, 0, nil, err
	}
	return resp.Body(), resp.StatusCode(), resp.Header(), nil
}

// backoff returns min(base * 2^attempt, cap).
func (c *Client) backoff(attempt int) time.Duration {
	if attempt >= 31 {
		return c.cap
	}
	d := c.base << uint(attempt)
	if d <= 0 || d > c.cap {
		return c.cap
	}
	return d
}

func (c *Client) canceled(err error) error {
	return fmt.Errorf("%s: request aborted: %w", c.name, err)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
