package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// ErrNotFound is returned by GetRun when no run has the given ID. Callers
// test with errors.Is.
var ErrNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Identifier   string          `json:"identifier,omitempty"`
	Keyword      string          `json:"keyword,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store is the persistence interface for scan runs and rank snapshots.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, req model.Request) (*model.Run, error)
	MarkRunning(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, result *model.RankResult, attempts int) error
	FailRun(ctx context.Context, runID string, errInfo model.ErrorInfo, attempts int) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Snapshots, upserted per (identifier, keyword, day)
	SaveSnapshots(ctx context.Context, snaps []model.Snapshot) error
	ListSnapshots(ctx context.Context, identifier string, since time.Time) ([]model.Snapshot, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
