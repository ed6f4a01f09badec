package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

// fakeStore serves canned runs through the store.Store interface. The
// embedded interface panics on any method the monitoring code should
// never call.
type fakeStore struct {
	store.Store
	runs    []model.Run
	listErr error
}

func (f *fakeStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Run
	for _, r := range f.runs {
		if matchRunFilter(r, filter) {
			out = append(out, r)
		}
	}
	return out, nil
}

// matchRunFilter mirrors the status and cutoff filtering the real stores
// apply, which is all the collector relies on.
func matchRunFilter(r model.Run, f store.RunFilter) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return f.CreatedAfter.IsZero() || !r.CreatedAt.Before(f.CreatedAfter)
}

func collect(t *testing.T, st store.Store) *MetricsSnapshot {
	t.Helper()
	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)
	return snap
}

func intPtr(v int) *int { return &v }

func TestCollectorNoRuns(t *testing.T) {
	snap := collect(t, &fakeStore{})

	assert.Zero(t, snap.ScanTotal)
	assert.Zero(t, snap.ScanFailed)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.BlockRate)
	assert.Zero(t, snap.QueueDepth)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollectorScanMetrics(t *testing.T) {
	now := time.Now().UTC()
	complete := func(id string, age time.Duration, dur time.Duration, res *model.RankResult) model.Run {
		created := now.Add(-age)
		return model.Run{
			ID: id, Status: model.RunStatusComplete,
			CreatedAt: created, UpdatedAt: created.Add(dur),
			Result: res,
		}
	}
	st := &fakeStore{runs: []model.Run{
		complete("1", 1*time.Hour, 30*time.Second, &model.RankResult{OrganicRank: intPtr(4), ScannedPages: 1}),
		complete("2", 2*time.Hour, 90*time.Second, &model.RankResult{ScannedPages: 5}), // scanned everything, never found
		{
			ID: "3", Status: model.RunStatusFailed,
			CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour).Add(60 * time.Second),
			Error: &model.ErrorInfo{Code: model.ErrBotBlocked, Message: "captcha"},
		},
		{ID: "4", Status: model.RunStatusQueued, CreatedAt: now.Add(-30 * time.Minute)},
		// Outside the lookback window, so excluded from rates but still
		// counted toward queue depth.
		{ID: "5", Status: model.RunStatusQueued, CreatedAt: now.Add(-48 * time.Hour)},
	}}

	snap := collect(t, st)

	assert.Equal(t, 4, snap.ScanTotal)
	assert.Equal(t, 2, snap.ScanComplete)
	assert.Equal(t, 1, snap.ScanFailed)
	assert.Equal(t, 1, snap.ScanQueued)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001)  // 1 failed / 3 finished
	assert.InDelta(t, 1.0/3.0, snap.BlockRate, 0.001) // 1 blocked / 3 finished
	assert.InDelta(t, 0.5, snap.FoundRate, 0.001)     // 1 found / 2 complete
	assert.InDelta(t, 3.0, snap.AvgPages, 0.001)      // (1+5)/2
	assert.Equal(t, 2, snap.QueueDepth)               // both queued runs, window ignored
}

func TestCollectorRatesNeedFinishedRuns(t *testing.T) {
	now := time.Now().UTC()
	st := &fakeStore{runs: []model.Run{
		{ID: "1", Status: model.RunStatusQueued, CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "2", Status: model.RunStatusRunning, CreatedAt: now.Add(-2 * time.Hour)},
	}}

	snap := collect(t, st)

	// Nothing has finished yet, so the rates stay zero.
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.BlockRate)
	assert.Equal(t, 1, snap.ScanRunning)
}

func TestCollectorStoreError(t *testing.T) {
	c := NewCollector(&fakeStore{listErr: context.DeadlineExceeded})

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
