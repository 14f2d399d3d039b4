// internal/httpretry/transport.go
package httpretry

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries is the total number of attempts made for one request.
	DefaultMaxRetries = 3
	// maxRateLimitWait caps how long a rate-limited request waits for the window to reset.
	maxRateLimitWait = 5 * time.Minute
)

// Transport retries requests that failed with a server error or hit a rate limit.
type Transport struct {
	Base            http.RoundTripper
	MaxRetries      int
	InitialInterval time.Duration
	Logger          *slog.Logger
}

// New wraps base with the default retry policy.
func New(base http.RoundTripper, logger *slog.Logger) *Transport {
	return &Transport{
		Base:            base,
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: 200 * time.Millisecond,
		Logger:          logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.InitialInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), req.Context())

	var resp *http.Response
	attempt := 0
	op := func() error {
		attempt++
		r := req.Clone(req.Context())
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		res, err := base.RoundTrip(r)
		if err != nil {
			resp = nil
			return err
		}
		resp = res

		wait, retry := classify(res)
		if !retry || attempt >= attempts {
			return nil
		}
		drain(res)
		resp = nil

		if wait > 0 {
			t.logger().Warn("Rate limited, waiting for reset", "url", req.URL.Path, "wait", wait.String())
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-req.Context().Done():
				return backoff.Permanent(req.Context().Err())
			}
		} else {
			t.logger().Warn("Retrying request", "url", req.URL.Path, "status", res.StatusCode, "attempt", attempt)
		}
		return errRetry
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

var errRetry = errors.New("retryable response")

// classify reports whether res should be retried and how long to wait for a rate-limit reset.
func classify(res *http.Response) (time.Duration, bool) {
	switch {
	case res.StatusCode == http.StatusTooManyRequests,
		res.StatusCode == http.StatusForbidden && isRateLimited(res):
		return rateLimitWait(res), true
	case res.StatusCode >= 500:
		return 0, true
	default:
		return 0, false
	}
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// isRateLimited reports whether a 403 is a quota rejection. GitHub and GitLab
// send rate limit headers on every response, so only an exhausted quota counts.
func isRateLimited(res *http.Response) bool {
	return res.Header.Get("X-RateLimit-Remaining") == "0" ||
		res.Header.Get("RateLimit-Remaining") == "0" ||
		res.Header.Get("Retry-After") != ""
}

func rateLimitWait(res *http.Response) time.Duration {
	var wait time.Duration
	if s := res.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			wait = time.Duration(secs) * time.Second
		}
	}
	for _, h := range []string{"X-RateLimit-Reset", "RateLimit-Reset"} {
		if s := res.Header.Get(h); s != "" && wait == 0 {
			if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
				wait = time.Until(time.Unix(epoch, 0))
			}
		}
	}
	if wait <= 0 {
		// Reset has a one-second resolution; it may already be in the past.
		wait = time.Second
	}
	return min(wait, maxRateLimitWait)
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	res.Body.Close()
}
