package collect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/TobiSchelling/reviewpulse/internal/observability"
)

const (
	maxBodyBytes = 8 << 20
	userAgent    = "reviewpulse/1.0"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote status %d", e.Code)
	}
	return fmt.Sprintf("remote status %d: %s", e.Code, e.Body)
}

// RetryDelay is the wait the remote asked for, zero when it did not say.
func (e *StatusError) RetryDelay() time.Duration { return e.RetryAfter }

// fetcher performs rate-limited GETs and records them as external calls.
type fetcher struct {
	service string
	hc      *http.Client
	rl      *rate.Limiter
}

func newFetcher(service string, hc *http.Client, rps float64) *fetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if rps <= 0 {
		rps = 1
	}
	return &fetcher{
		service: service,
		hc:      hc,
		rl:      rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// get returns the response body of a successful GET.
func (f *fetcher) get(ctx context.Context, endpoint, url, accept string) ([]byte, error) {
	if err := f.rl.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.hc.Do(req)
	if err != nil {
		observability.ObserveExternal(f.service, endpoint, 0, time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal(f.service, endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Code:       resp.StatusCode,
			RetryAfter: retryAfter(resp),
			Body:       strings.TrimSpace(string(b)),
		}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
