package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfmetrics/rank-cli/internal/resilience"
)

const jobsPayload = "B0EXAMPLE1,ergonomic keyboard\nB0EXAMPLE2,mechanical keyboard\n"

// fastFetcher caps retry delays at 2ms so retry paths stay quick.
func fastFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "rank-cli-test"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	f := NewHTTPFetcher(opts)
	f.backoff = resilience.NewBackoff(time.Millisecond, 2*time.Millisecond)
	return f
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rank-cli-test", r.Header.Get("User-Agent"))
		w.Write([]byte(jobsPayload))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	body, err := f.Download(context.Background(), srv.URL+"/jobs.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, jobsPayload, string(data))
}

func TestDownload_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	_, err := f.Download(context.Background(), srv.URL+"/jobs.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := fastFetcher(HTTPOptions{})
	_, err := f.Download(ctx, srv.URL+"/jobs.csv")
	require.Error(t, err)
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jobsPayload))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	path := filepath.Join(t.TempDir(), "jobs.csv")

	n, err := f.DownloadToFile(context.Background(), srv.URL+"/jobs.csv", path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(jobsPayload)), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, jobsPayload, string(data))
}

func TestDownloadToFile_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	_, err := f.DownloadToFile(context.Background(), srv.URL+"/gone.csv", filepath.Join(t.TempDir(), "out.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestDownloadToFile_CreateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jobsPayload))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	path := filepath.Join(t.TempDir(), "missing", "out.csv")
	_, err := f.DownloadToFile(context.Background(), srv.URL+"/jobs.csv", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create file")
}

func TestHeadETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("ETag", `"rev-42"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	etag, err := f.HeadETag(context.Background(), srv.URL+"/jobs.csv")
	require.NoError(t, err)
	assert.Equal(t, `"rev-42"`, etag)
}

func TestHeadETag_Missing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	etag, err := f.HeadETag(context.Background(), srv.URL+"/jobs.csv")
	require.NoError(t, err)
	assert.Empty(t, etag)
}

func TestDownloadIfChanged_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"rev-42"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("stale read"))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL+"/jobs.csv", `"rev-42"`)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, body)
	assert.Equal(t, `"rev-42"`, etag)
}

func TestDownloadIfChanged_Changed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"rev-43"`)
		w.Write([]byte(jobsPayload))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL+"/jobs.csv", `"rev-42"`)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, `"rev-43"`, etag)

	data, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, jobsPayload, string(data))
}

func TestDownloadIfChanged_FirstFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("If-None-Match"))
		w.Header().Set("ETag", `"rev-1"`)
		w.Write([]byte(jobsPayload))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL+"/jobs.csv", "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, `"rev-1"`, etag)
	body.Close()
}

func TestDownloadIfChanged_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{})
	_, _, _, err := f.DownloadIfChanged(context.Background(), srv.URL+"/jobs.csv", `"rev-42"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(jobsPayload))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{MaxRetries: 3})
	body, err := f.Download(context.Background(), srv.URL+"/jobs.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, jobsPayload, string(data))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{MaxRetries: 2})
	_, err := f.Download(context.Background(), srv.URL+"/jobs.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRetryOn429_PacesDown(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(jobsPayload))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{MaxRetries: 3, PerHostRate: 100})
	body, err := f.Download(context.Background(), srv.URL+"/jobs.csv")
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, int32(3), attempts.Load())

	// Two halvings then one success bump: 100 -> 50 -> 25 -> 30.
	lim := f.limiterFor(srv.URL)
	assert.InDelta(t, 30.0, float64(lim.Limit()), 0.1)
}

func TestRetryAfterSeconds(t *testing.T) {
	mk := func(v string) *http.Response {
		resp := &http.Response{Header: http.Header{}}
		if v != "" {
			resp.Header.Set("Retry-After", v)
		}
		return resp
	}

	assert.Equal(t, 3*time.Second, retryAfter(mk("3")))
	assert.Equal(t, time.Duration(0), retryAfter(mk("")))
	assert.Equal(t, time.Duration(0), retryAfter(mk("-5")))
	assert.Equal(t, time.Duration(0), retryAfter(mk("Wed, 21 Oct 2015 07:28:00 GMT")))
}

func TestPerHostPacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := fastFetcher(HTTPOptions{PerHostRate: 2})

	start := time.Now()
	for range 3 {
		body, err := f.Download(context.Background(), srv.URL+"/jobs.csv")
		require.NoError(t, err)
		body.Close()
	}

	// Burst of 2 covers the first two requests; the third waits for a
	// token at roughly 2-3 rps.
	assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(200))
}

func TestLimiterSharedPerHost(t *testing.T) {
	f := fastFetcher(HTTPOptions{})
	a := f.limiterFor("https://files.example.com/jobs_a.csv")
	b := f.limiterFor("https://files.example.com/jobs_b.csv")
	c := f.limiterFor("https://other.example.com/jobs.csv")
	assert.Same(t, a, b, "one host shares one budget")
	assert.NotSame(t, a, c)
}

func TestLimiterFor_InvalidURL(t *testing.T) {
	f := fastFetcher(HTTPOptions{})
	lim := f.limiterFor("://not-a-url")
	require.NotNil(t, lim)
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.001)
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "rank-cli/1.0", f.opts.UserAgent)
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.InDelta(t, 20.0, float64(f.opts.PerHostRate), 0.001)
}

func TestTransportPooling(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	transport, ok := f.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 10, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 20, transport.MaxConnsPerHost)
}

func TestAdaptiveLimiter_SuccessRaisesRate(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)

	lim.OnSuccess()
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.1)

	lim.OnSuccess()
	assert.InDelta(t, 14.4, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_CapsAtDoubleBase(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)
	for range 20 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_RateLimitHalves(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)

	lim.OnRateLimit()
	assert.InDelta(t, 5.0, float64(lim.Limit()), 0.1)

	lim.OnRateLimit()
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_FloorsAtQuarterBase(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)
	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_Wait(t *testing.T) {
	lim := NewAdaptiveLimiter(1000, 10)
	assert.NoError(t, lim.Wait(context.Background()))
}

func TestAdaptiveLimiter_WaitCancelled(t *testing.T) {
	lim := NewAdaptiveLimiter(0.001, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, lim.Wait(ctx))
}
