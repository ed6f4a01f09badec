package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shelfmetrics/rank-cli/internal/resilience"
)

// HTTPOptions configures the job-list HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int // attempts per request, default 3

	// PerHostRate is the steady-state request rate allowed per host.
	// Zero means 20 rps.
	PerHostRate rate.Limit
}

// AdaptiveLimiter paces requests to one host and tunes itself from what the
// host sends back: successes nudge the rate up toward twice the steady
// state, 429s halve it down to a quarter.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	current rate.Limit
}

func NewAdaptiveLimiter(base rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(base, burst),
		base:    base,
		current: base,
	}
}

// Wait blocks until the limiter admits one request.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate 20%, capped at twice the steady state.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setRate(a.current * 1.2)
}

// OnRateLimit halves the rate, floored at a quarter of the steady state.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setRate(a.current * 0.5)
	zap.L().Warn("pacing down after 429", zap.Float64("rps", float64(a.current)))
}

// setRate clamps r into [base/4, base*2] and applies it. Callers hold mu.
func (a *AdaptiveLimiter) setRate(r rate.Limit) {
	if r > a.base*2 {
		r = a.base * 2
	}
	if r < a.base/4 {
		r = a.base / 4
	}
	a.current = r
	a.limiter.SetLimit(r)
}

// Limit reports the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HTTPFetcher downloads job lists over HTTP with per-host adaptive pacing
// and retries for transient failures.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	backoff resilience.Backoff

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "rank-cli/1.0"
	}
	if opts.PerHostRate == 0 {
		opts.PerHostRate = 20
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		backoff:  resilience.NewBackoff(time.Second, 30*time.Second),
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// limiterFor returns the host's limiter, creating it on first use so repeat
// requests share one budget.
func (f *HTTPFetcher) limiterFor(rawURL string) *AdaptiveLimiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	lim := NewAdaptiveLimiter(f.opts.PerHostRate, int(f.opts.PerHostRate))
	f.limiters[host] = lim
	return lim
}

// do runs one request with retries. Transport errors, 5xx responses, and
// 429s retry with exponential backoff; a 429 also honors Retry-After when
// the host sends one in seconds form.
func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL.String())

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		switch {
		case err != nil:
			lastErr = err
			zap.L().Warn("request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.sleep(ctx, f.backoff.Delay(attempt))

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = eris.Errorf("http 429 from %s", req.URL.String())
			lim.OnRateLimit()
			wait := retryAfter(resp)
			_ = resp.Body.Close()
			if wait <= 0 {
				wait = f.backoff.Delay(attempt)
			}
			f.sleep(ctx, wait)

		case resp.StatusCode >= 500:
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String())
			_ = resp.Body.Close()
			zap.L().Warn("server error, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			f.sleep(ctx, f.backoff.Delay(attempt))

		default:
			lim.OnSuccess()
			return resp, nil
		}
	}
	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

// retryAfter reads a delay-seconds Retry-After header. Returns 0 when the
// header is absent or uses the HTTP-date form.
func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (f *HTTPFetcher) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	return req, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to the given path. Returns
// bytes written.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	n, err := io.Copy(out, body)
	if err != nil {
		out.Close() //nolint:errcheck
		return n, eris.Wrap(err, "write file")
	}
	if err := out.Close(); err != nil {
		return n, eris.Wrap(err, "close file")
	}
	return n, nil
}

// HeadETag performs a HEAD request and returns the ETag header value, empty
// when the host does not send one.
func (f *HTTPFetcher) HeadETag(ctx context.Context, rawURL string) (string, error) {
	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", err
	}

	resp, err := f.do(ctx, req)
	if err != nil {
		return "", eris.Wrap(err, "head request")
	}
	defer resp.Body.Close() //nolint:errcheck

	return resp.Header.Get("ETag"), nil
}

// DownloadIfChanged fetches the URL only if its ETag moved. Returns
// (body, newETag, changed, error); on a 304 the body is nil and the caller
// keeps its cached copy.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL string, etag string) (io.ReadCloser, string, bool, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, "", false, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "download if changed")
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		_ = resp.Body.Close()
		return nil, etag, false, nil
	case resp.StatusCode != http.StatusOK:
		_ = resp.Body.Close()
		return nil, "", false, eris.Errorf("download if changed: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp.Body, resp.Header.Get("ETag"), true, nil
}
