package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied at open time. WAL keeps readers fast while
// serve mode writes runs; the busy timeout rides out writer contention.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// NewSQLite opens a SQLite database at the given path.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	identifier    TEXT NOT NULL,
	keyword       TEXT NOT NULL,
	request       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	result        TEXT,
	error_code    TEXT,
	error_message TEXT,
	attempts      INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS snapshots (
	identifier    TEXT NOT NULL,
	keyword       TEXT NOT NULL,
	captured_on   TEXT NOT NULL,
	organic_rank  INTEGER,
	promoted_rank INTEGER,
	page_found    INTEGER,
	PRIMARY KEY (identifier, keyword, captured_on)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_identifier ON runs(identifier);
CREATE INDEX IF NOT EXISTS idx_runs_keyword ON runs(keyword);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_identifier ON snapshots(identifier);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, req model.Request) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal request")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, identifier, keyword, request, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, req.Identifier, req.Keyword, string(reqJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Request:   req,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// execRunUpdate runs an UPDATE against a single run and converts a zero
// row count into a not-found error.
func (s *SQLiteStore) execRunUpdate(ctx context.Context, op, runID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s %s", op, runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, runID string) error {
	return s.execRunUpdate(ctx, "mark running", runID,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusRunning), time.Now().UTC(), runID,
	)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.RankResult, attempts int) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	return s.execRunUpdate(ctx, "complete run", runID,
		`UPDATE runs SET status = ?, result = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(resultJSON), attempts, time.Now().UTC(), runID,
	)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errInfo model.ErrorInfo, attempts int) error {
	return s.execRunUpdate(ctx, "fail run", runID,
		`UPDATE runs SET status = ?, error_code = ?, error_message = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), string(errInfo.Code), errInfo.Message, attempts, time.Now().UTC(), runID,
	)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request, status, result, error_code, error_message, attempts, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, result, error_code, error_message, attempts, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any
	arg := func(clause string, v any) {
		query += clause
		args = append(args, v)
	}

	if filter.Status != "" {
		arg(` AND status = ?`, string(filter.Status))
	}
	if filter.Identifier != "" {
		arg(` AND identifier = ?`, filter.Identifier)
	}
	if filter.Keyword != "" {
		arg(` AND keyword = ?`, filter.Keyword)
	}
	if !filter.CreatedAfter.IsZero() {
		arg(` AND created_at >= ?`, filter.CreatedAfter.UTC())
	}

	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	arg(` LIMIT ?`, limit)
	if filter.Offset > 0 {
		arg(` OFFSET ?`, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

const snapshotDateLayout = "2006-01-02"

func (s *SQLiteStore) SaveSnapshots(ctx context.Context, snaps []model.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshot tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshots (identifier, keyword, captured_on, organic_rank, promoted_rank, page_found)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identifier, keyword, captured_on) DO UPDATE SET
			organic_rank = excluded.organic_rank,
			promoted_rank = excluded.promoted_rank,
			page_found = excluded.page_found`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare snapshot upsert")
	}
	defer stmt.Close()

	for _, sn := range snaps {
		_, err := stmt.ExecContext(ctx,
			sn.Identifier, sn.Keyword, sn.CapturedOn.UTC().Format(snapshotDateLayout),
			nullableInt(sn.OrganicRank), nullableInt(sn.PromotedRank), nullableInt(sn.PageFound),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert snapshot %s/%s", sn.Identifier, sn.Keyword)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit snapshots")
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, identifier string, since time.Time) ([]model.Snapshot, error) {
	query := `SELECT identifier, keyword, captured_on, organic_rank, promoted_rank, page_found
	          FROM snapshots WHERE identifier = ?`
	args := []any{identifier}

	if !since.IsZero() {
		query += ` AND captured_on >= ?`
		args = append(args, since.UTC().Format(snapshotDateLayout))
	}
	query += ` ORDER BY captured_on DESC, keyword ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		var sn model.Snapshot
		var capturedOn string
		var organic, promoted, page sql.NullInt64
		if err := rows.Scan(&sn.Identifier, &sn.Keyword, &capturedOn, &organic, &promoted, &page); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		sn.CapturedOn, err = time.Parse(snapshotDateLayout, capturedOn)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse captured_on %q", capturedOn)
		}
		sn.OrganicRank = intPtr(organic)
		sn.PromotedRank = intPtr(promoted)
		sn.PageFound = intPtr(page)
		snaps = append(snaps, sn)
	}
	return snaps, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

// helpers

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var r model.Run
	var reqJSON string
	var resultJSON, errCode, errMessage sql.NullString

	err := row.Scan(&r.ID, &reqJSON, &r.Status, &resultJSON, &errCode, &errMessage, &r.Attempts, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(reqJSON), &r.Request); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal request")
	}
	if resultJSON.Valid {
		r.Result = &model.RankResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	if errCode.Valid && errCode.String != "" {
		r.Error = &model.ErrorInfo{Code: model.ErrorKind(errCode.String), Message: errMessage.String}
	}
	return &r, nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
