package model

import "time"

// RunStatus represents the lifecycle state of a persisted scan run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one persisted scan: the request, its lifecycle status, and on
// completion either a result or a classified error.
type Run struct {
	ID        string      `json:"id"`
	Request   Request     `json:"request"`
	Status    RunStatus   `json:"status"`
	Result    *RankResult `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Attempts  int         `json:"attempts"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Duration returns the wall-clock span between creation and last update.
func (r *Run) Duration() time.Duration {
	return r.UpdatedAt.Sub(r.CreatedAt)
}

// Snapshot is a point-in-time rank observation, upserted per
// (identifier, keyword, day) so repeated batch runs update the same row.
type Snapshot struct {
	Identifier   string    `json:"identifier"`
	Keyword      string    `json:"keyword"`
	OrganicRank  *int      `json:"organic_rank"`
	PromotedRank *int      `json:"promoted_rank"`
	PageFound    *int      `json:"page_found"`
	CapturedOn   time.Time `json:"captured_on"`
}

// SnapshotFromResult projects a rank result into a snapshot row.
func SnapshotFromResult(res *RankResult) Snapshot {
	return Snapshot{
		Identifier:   res.Identifier,
		Keyword:      res.Keyword,
		OrganicRank:  res.OrganicRank,
		PromotedRank: res.PromotedRank,
		PageFound:    res.PageFound,
		CapturedOn:   res.Timestamp.UTC().Truncate(24 * time.Hour),
	}
}
