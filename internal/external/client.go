// Package external holds the email provider clients used by the email
// worker. HTTP providers post through a transport that retries throttled
// and failing sends behind a circuit breaker.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"pollkeeper/internal/types"
)

const userAgent = "PollKeeper/1.0"

// RetryPolicy bounds the transport's retries of 429 and 5xx responses.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// transport posts JSON bodies to one provider. The breaker is per transport,
// so one provider's outage never trips another's.
type transport struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	retry   RetryPolicy
	sleep   func(context.Context, time.Duration) error
}

type transportOption func(*transport)

func withSleep(fn func(context.Context, time.Duration) error) transportOption {
	return func(t *transport) { t.sleep = fn }
}

func withBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) transportOption {
	return func(t *transport) { t.breaker = cb }
}

// newBreaker opens after more than maxFailures consecutive failed sends and
// lets a single trial request through after openFor.
func newBreaker(name string, maxFailures uint32, openFor time.Duration) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > maxFailures
		},
	})
}

func newTransport(httpClient *http.Client, provider string, retry RetryPolicy, opts ...transportOption) *transport {
	t := &transport{
		client:  httpClient,
		breaker: newBreaker(provider, 5, 30*time.Second),
		retry:   retry,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// postJSON sends body to url, building a fresh request per attempt. The
// request id from ctx is forwarded as X-Request-Id so provider-side logs can
// be joined with the job run that queued the email.
//
// A 2xx or non-429 4xx response is returned for the caller to interpret and
// close. Exhausted retries, an open breaker or a network failure return an
// AppError with an upstream code.
func (t *transport) postJSON(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	var last *http.Response
	var lastErr error

	attempts := 1 + t.retry.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build provider request", err)
		}
		for k, v := range header {
			req.Header[k] = v
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if id := types.GetRequestID(ctx); id != "" {
			req.Header.Set("X-Request-Id", id)
		}

		resp, err := t.breaker.Execute(func() (*http.Response, error) {
			r, err := t.client.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				return r, fmt.Errorf("provider returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		// Status and headers stay readable after the body is closed.
		if resp != nil {
			resp.Body.Close()
		}
		last, lastErr = resp, err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt == attempts-1 {
			break
		}
		if err := t.sleep(ctx, t.backoff(attempt, resp)); err != nil {
			lastErr = err
			break
		}
	}

	return nil, mapTransportError(last, lastErr)
}

// backoff honours Retry-After (seconds or HTTP date) up to MaxWait, and
// otherwise picks a jittered exponential wait in [MinWait, MaxWait].
func (t *transport) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return min(time.Duration(secs)*time.Second, t.retry.MaxWait)
			}
			if at, err := http.ParseTime(ra); err == nil {
				return max(min(time.Until(at), t.retry.MaxWait), t.retry.MinWait)
			}
		}
	}

	lo := float64(t.retry.MinWait)
	hi := math.Min(lo*math.Pow(2, float64(attempt)), float64(t.retry.MaxWait))
	if hi <= lo {
		return t.retry.MinWait
	}
	return time.Duration(lo + rand.Float64()*(hi-lo))
}

func mapTransportError(resp *http.Response, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "email provider circuit open", err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "email provider rate limit exceeded", err)
	case resp != nil && resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("email provider returned %d after retries", resp.StatusCode), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "email provider request failed", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
