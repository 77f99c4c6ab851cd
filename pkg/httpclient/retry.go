package httpclient

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// retryTransport retries transient failures with exponential backoff.
type retryTransport struct {
	base          http.RoundTripper
	maxAttempts   int
	baseBackoff   time.Duration
	maxBackoff    time.Duration
	retryAllVerbs bool
}

func newRetryTransport(base http.RoundTripper, cfg Config) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{
		base:          base,
		maxAttempts:   cfg.RetryAttempts + 1,
		baseBackoff:   cfg.RetryBackoff,
		maxBackoff:    cfg.MaxBackoff,
		retryAllVerbs: cfg.AllowNonIdempotentRetry,
	}
}

// RoundTrip implements http.RoundTripper. Only GET, HEAD and OPTIONS
// retry unless the config opts every method in.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !idempotent(req.Method) && !t.retryAllVerbs {
		return t.base.RoundTrip(req)
	}

	var lastErr error
	var lastResp *http.Response

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			// A consumed body must be replayable before another
			// attempt makes sense.
			if req.Body != nil && req.GetBody == nil {
				break
			}

			delay := t.backoff(attempt - 1)
			// An explicit Retry-After below our own backoff wins.
			if lastResp != nil {
				if ra := retryAfter(lastResp); ra > 0 && ra < delay {
					delay = ra
				}
			}
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				closeBody(lastResp)
				return nil, req.Context().Err()
			}

			if req.Body != nil {
				body, err := req.GetBody()
				if err != nil {
					closeBody(lastResp)
					return nil, err
				}
				req.Body = body
			}
		}

		resp, err := t.base.RoundTrip(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			closeBody(lastResp)
			return resp, nil
		}
		if err != nil && !retryableError(err) {
			closeBody(lastResp)
			return nil, err
		}

		// Retryable outcome. Keep the response for its Retry-After
		// header; the previous one is done with.
		closeBody(lastResp)
		lastErr = err
		lastResp = resp

		if req.Context().Err() != nil {
			closeBody(lastResp)
			return nil, req.Context().Err()
		}
	}

	// Out of attempts, or the body could not be replayed. The last
	// response, if any, goes back to the caller with its body intact.
	if lastErr != nil {
		closeBody(lastResp)
		return nil, lastErr
	}
	return lastResp, nil
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

func idempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func retryableStatus(statusCode int) bool {
	switch {
	case statusCode >= 500 && statusCode < 600:
		return true
	case statusCode == http.StatusRequestTimeout:
		return true
	case statusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation is final.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return retryableError(urlErr.Err)
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"temporary failure in name resolution",
		"eof",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

// backoff computes the delay before the given retry with exponential
// growth, a cap, and up to 20% jitter.
func (t *retryTransport) backoff(retry int) time.Duration {
	d := float64(t.baseBackoff) * math.Pow(2, float64(retry-1))
	if d > float64(t.maxBackoff) {
		d = float64(t.maxBackoff)
	}
	jitter := rand.Float64() * d * 0.2
	return time.Duration(d + jitter)
}

// retryAfter reads the Retry-After header, accepting both delay
// seconds and HTTP-date forms. Zero means absent or unusable.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return 0
}
