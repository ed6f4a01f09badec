// Package monitoring collects scan-health metrics from the run store and
// raises webhook alerts when failure or blocking rates breach thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of scan health.
type MetricsSnapshot struct {
	// Scan metrics (within lookback window).
	ScanTotal    int     `json:"scan_total"`
	ScanComplete int     `json:"scan_complete"`
	ScanFailed   int     `json:"scan_failed"`
	ScanRunning  int     `json:"scan_running"`
	ScanQueued   int     `json:"scan_queued"`
	FailRate     float64 `json:"fail_rate"`
	BlockRate    float64 `json:"block_rate"`
	FoundRate    float64 `json:"found_rate"`
	AvgPages     float64 `json:"avg_pages"`
	AvgDuration  float64 `json:"avg_duration_secs"`

	// Queue depth across all time, not just the window. Queued runs older
	// than the window are exactly the ones that indicate a stuck worker.
	QueueDepth int `json:"queue_depth"`

	// When the snapshot was taken and how far back it looked.
	CollectedAt   time.Time `json:"collected_at"`
	LookbackHours int       `json:"lookback_hours"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store store.Store
}

// NewCollector builds a Collector reading from the given run store.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of scan metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	window := store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	}
	runs, err := c.store.ListRuns(ctx, window)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var t tally
	for i := range runs {
		t.observe(&runs[i])
	}
	snap := t.snapshot()
	snap.CollectedAt = now
	snap.LookbackHours = lookbackHours

	// Queue depth, unbounded by the window.
	queued, err := c.store.ListRuns(ctx, store.RunFilter{
		Status: model.RunStatusQueued,
		Limit:  10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list queued runs")
	}
	snap.QueueDepth = len(queued)

	return snap, nil
}

// tally accumulates raw counters over a single pass of the run list.
type tally struct {
	total, complete, failed, running, queued int
	blocked, found                           int
	pages, paged                             int
	dur                                      time.Duration
}

func (t *tally) observe(r *model.Run) {
	t.total++
	switch r.Status {
	case model.RunStatusComplete:
		t.complete++
	case model.RunStatusFailed:
		t.failed++
	case model.RunStatusRunning:
		t.running++
	case model.RunStatusQueued:
		t.queued++
	}
	if r.Error != nil && r.Error.Code == model.ErrBotBlocked {
		t.blocked++
	}
	if r.Result != nil {
		if r.Result.Found() {
			t.found++
		}
		t.pages += r.Result.ScannedPages
		t.paged++
	}
	t.dur += r.Duration()
}

// snapshot turns raw counters into rates. A rate over a zero denominator
// stays zero rather than going NaN.
func (t *tally) snapshot() *MetricsSnapshot {
	finished := t.complete + t.failed
	snap := &MetricsSnapshot{
		ScanTotal:    t.total,
		ScanComplete: t.complete,
		ScanFailed:   t.failed,
		ScanRunning:  t.running,
		ScanQueued:   t.queued,
		FailRate:     ratio(t.failed, finished),
		BlockRate:    ratio(t.blocked, finished),
		FoundRate:    ratio(t.found, t.complete),
		AvgPages:     ratio(t.pages, t.paged),
	}
	if t.total > 0 {
		snap.AvgDuration = (t.dur / time.Duration(t.total)).Seconds()
	}
	return snap
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
