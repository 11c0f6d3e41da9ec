package runtime

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

// Prober checks a single health endpoint once.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber issues a GET and accepts any 2xx or 3xx answer.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober whose every request is bounded by timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return (&net.Dialer{
						Timeout:   timeout,
						KeepAlive: 0,
					}).DialContext(ctx, network, addr)
				},
				TLSHandshakeTimeout: timeout,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				DisableKeepAlives: true,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Probe performs one health request.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// ProbePolicy bounds health probing after an update.
type ProbePolicy struct {
	Attempts int           // at least 1
	Interval time.Duration // wait between attempts
	Deadline time.Duration // overall budget, 0 means attempts only
}

// HealthChecker is the part of Adapter used by ProbeUntilHealthy.
type HealthChecker interface {
	Healthy(ctx context.Context, unit domain.ServiceUnit) error
}

// ProbeUntilHealthy retries Healthy at a constant interval until it
// succeeds, the attempts are used up, or the deadline passes. Running out
// is reported as a RuntimeAdapterError carrying the last health error.
func ProbeUntilHealthy(ctx context.Context, hc HealthChecker, unit domain.ServiceUnit, policy ProbePolicy, log logger.Logger) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Deadline)
		defer cancel()
	}

	var (
		attempts int
		lastErr  error
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		lastErr = hc.Healthy(ctx, unit)
		return struct{}{}, lastErr
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Interval)),
		backoff.WithMaxTries(uint(policy.Attempts)),
		backoff.WithMaxElapsedTime(policy.Deadline),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug("health probe failed, retrying",
				logger.ServiceID(unit.ID),
				logger.Int("attempt", attempts),
				logger.Duration("next_retry_in", next),
				logger.Error(err))
		}),
	)
	if err == nil {
		if attempts > 1 {
			log.Info("service healthy after retry",
				logger.ServiceID(unit.ID),
				logger.Int("attempts", attempts))
		}
		return nil
	}

	reason := "unhealthy"
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = "deadline exceeded"
	case ctx.Err() != nil:
		reason = "cancelled"
	}
	return &domain.RuntimeAdapterError{
		Op:        "probe",
		ServiceID: unit.ID,
		Err:       fmt.Errorf("%s after %d attempts: %w", reason, attempts, lastErr),
	}
}
