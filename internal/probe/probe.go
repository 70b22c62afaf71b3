// Package probe checks server reachability over plain HTTP before the
// websocket dials. The shell server exposes its page alongside the
// event endpoint, so a fast HTTP round trip is a cheap liveness signal
// for the status surface and for startup diagnostics.
package probe

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/infrastructure/resilience"
)

// Config tunes the prober.
type Config struct {
	// URL is the HTTP endpoint to probe. Leave empty to derive it from
	// a websocket URL with HTTPURL.
	URL string

	Timeout time.Duration

	// RatePerSecond caps probe frequency; the status surface may poll.
	RatePerSecond float64
}

// HTTPURL derives the probe endpoint from the websocket server URL by
// swapping the scheme and dropping the event path.
func HTTPURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	u.Path = "/"
	u.RawQuery = ""
	return u.String(), nil
}

// Prober performs rate-limited, breaker-guarded health checks.
type Prober struct {
	url     string
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *logging.Logger
}

// New creates a prober. Transient errors and 5xx responses retry
// inside a single check; the breaker accounts for whole checks.
func New(cfg Config, log *logging.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		}).
		SetHeader("User-Agent", "shellmux-probe/1.0")
	client.SetTransport(retryClient.HTTPClient.Transport)

	return &Prober{
		url:     cfg.URL,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		breaker: resilience.New("probe", resilience.Settings{
			FailureThreshold: 3,
			RecoveryTimeout:  15 * time.Second,
		}),
		log: log,
	}
}

// Check performs one health check. It blocks on the rate limiter, then
// runs through the breaker; resilience.ErrOpen means the server has
// been failing and the check was skipped.
func (p *Prober) Check(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("probe rate limit: %w", err)
	}

	return p.breaker.Do(func() error {
		resp, err := p.client.R().SetContext(ctx).Get(p.url)
		if err != nil {
			p.log.Warn("probe failed", zap.String("url", p.url), zap.Error(err))
			return fmt.Errorf("probe %s: %w", p.url, err)
		}
		if resp.StatusCode() >= 500 {
			p.log.Warn("probe got server error",
				zap.String("url", p.url),
				zap.Int("status", resp.StatusCode()))
			return fmt.Errorf("probe %s: status %d", p.url, resp.StatusCode())
		}
		return nil
	})
}

// State exposes the breaker position for the status surface.
func (p *Prober) State() resilience.State {
	return p.breaker.State()
}
