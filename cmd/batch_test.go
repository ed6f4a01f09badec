//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfmetrics/rank-cli/internal/config"
	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func makeJobs(n int) []model.Request {
	jobs := make([]model.Request, n)
	for i := range jobs {
		jobs[i] = model.Request{
			Identifier:    "B0EXAMPLE" + string(rune('1'+i)),
			Keyword:       "wireless earbuds",
			CheckOrganic:  true,
			CheckPromoted: true,
		}
	}
	return jobs
}

func okScan() scanFunc {
	return func(_ context.Context, run *model.Run) model.Response {
		organic := 5
		return model.OK(&model.RankResult{
			Identifier:   run.Request.Identifier,
			Keyword:      run.Request.Keyword,
			OrganicRank:  &organic,
			ScannedPages: 1,
		})
	}
}

func TestProcessBatch_NoJobs(t *testing.T) {
	ids, err := processBatch(context.Background(), nil, nil, 10, 2, func(_ context.Context, _ *model.Run) model.Response {
		t.Fatal("scan should not be called with no jobs")
		return model.Response{}
	})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProcessBatch_AllSucceed(t *testing.T) {
	st := newTestStore(t)
	var calls atomic.Int64

	ids, err := processBatch(context.Background(), st, makeJobs(3), 0, 2, func(ctx context.Context, run *model.Run) model.Response {
		calls.Add(1)
		return okScan()(ctx, run)
	})
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Equal(t, int64(3), calls.Load())

	// Every job left a persisted run behind.
	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestProcessBatch_LimitApplied(t *testing.T) {
	st := newTestStore(t)
	var calls atomic.Int64

	ids, err := processBatch(context.Background(), st, makeJobs(5), 2, 2, func(ctx context.Context, run *model.Run) model.Response {
		calls.Add(1)
		return okScan()(ctx, run)
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, int64(2), calls.Load())
}

func TestProcessBatch_FailuresDoNotAbort(t *testing.T) {
	st := newTestStore(t)
	var calls atomic.Int64

	ids, err := processBatch(context.Background(), st, makeJobs(3), 0, 1, func(ctx context.Context, run *model.Run) model.Response {
		n := calls.Add(1)
		if n == 2 {
			return model.Fail(model.ErrBotBlocked, "captcha interstitial")
		}
		return okScan()(ctx, run)
	})
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Equal(t, int64(3), calls.Load())
}

func TestCollectRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, model.Request{Identifier: "B0EXAMPLE1", Keyword: "wireless earbuds", CheckOrganic: true})
	require.NoError(t, err)
	b, err := st.CreateRun(ctx, model.Request{Identifier: "B0EXAMPLE2", Keyword: "usb c hub", CheckOrganic: true})
	require.NoError(t, err)

	runs, err := collectRuns(ctx, st, []string{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, a.ID, runs[0].ID)
	assert.Equal(t, b.ID, runs[1].ID)
}

func TestCollectRuns_UnknownID(t *testing.T) {
	st := newTestStore(t)

	_, err := collectRuns(context.Background(), st, []string{"no-such-run"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect run")
}

func TestJobOptions_MapsConfig(t *testing.T) {
	cfg = &config.Config{}
	cfg.Batch.CSVDelimiter = ";"
	cfg.Batch.CSVCharset = "windows-1252"
	cfg.Batch.XLSXSheet = "Jobs"

	opts := jobOptions()
	assert.Equal(t, ';', opts.CSV.Delimiter)
	assert.Equal(t, "windows-1252", opts.CSV.Charset)
	assert.Equal(t, "Jobs", opts.SheetName)
}
