package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shelfmetrics/rank-cli/internal/db"
	"github.com/shelfmetrics/rank-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// apply copies pool sizing onto cfg, keeping defaults for unset values.
func (p *PoolConfig) apply(cfg *pgxpool.Config) {
	cfg.MaxConns = 10
	cfg.MinConns = 2
	if p != nil {
		if p.MaxConns > 0 {
			cfg.MaxConns = p.MaxConns
		}
		if p.MinConns > 0 {
			cfg.MinConns = p.MinConns
		}
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":   `INSERT INTO runs (id, identifier, keyword, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"mark_running": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run": `UPDATE runs SET status = $1, result = $2, attempts = $3, updated_at = $4 WHERE id = $5`,
	"fail_run":     `UPDATE runs SET status = $1, error_code = $2, error_message = $3, attempts = $4, updated_at = $5 WHERE id = $6`,
	"get_run":      `SELECT id, request, status, result, error_code, error_message, attempts, created_at, updated_at FROM runs WHERE id = $1`,
}

func prepareStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range preparedStatements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return eris.Wrapf(err, "postgres: prepare %s", name)
		}
	}
	return nil
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	poolCfg.apply(pgxCfg)
	pgxCfg.AfterConnect = prepareStatements

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., bulk exports).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	identifier    TEXT NOT NULL,
	keyword       TEXT NOT NULL,
	request       JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	result        JSONB,
	error_code    TEXT,
	error_message TEXT,
	attempts      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS snapshots (
	identifier    TEXT NOT NULL,
	keyword       TEXT NOT NULL,
	captured_on   DATE NOT NULL,
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, req model.Request) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal request")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, identifier, keyword, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, req.Identifier, req.Keyword, reqJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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
func (s *PostgresStore) execRunUpdate(ctx context.Context, op, runID, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s %s", op, runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) MarkRunning(ctx context.Context, runID string) error {
	return s.execRunUpdate(ctx, "mark running", runID,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(model.RunStatusRunning), time.Now().UTC(), runID,
	)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.RankResult, attempts int) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	return s.execRunUpdate(ctx, "complete run", runID,
		`UPDATE runs SET status = $1, result = $2, attempts = $3, updated_at = $4 WHERE id = $5`,
		string(model.RunStatusComplete), resultJSON, attempts, time.Now().UTC(), runID,
	)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errInfo model.ErrorInfo, attempts int) error {
	return s.execRunUpdate(ctx, "fail run", runID,
		`UPDATE runs SET status = $1, error_code = $2, error_message = $3, attempts = $4, updated_at = $5 WHERE id = $6`,
		string(model.RunStatusFailed), string(errInfo.Code), errInfo.Message, attempts, time.Now().UTC(), runID,
	)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, request, status, result, error_code, error_message, attempts, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, result, error_code, error_message, attempts, created_at, updated_at FROM runs WHERE true`
	var args []any
	arg := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}

	if filter.Status != "" {
		arg(` AND status = $%d`, string(filter.Status))
	}
	if filter.Identifier != "" {
		arg(` AND identifier = $%d`, filter.Identifier)
	}
	if filter.Keyword != "" {
		arg(` AND keyword = $%d`, filter.Keyword)
	}
	if !filter.CreatedAfter.IsZero() {
		arg(` AND created_at >= $%d`, filter.CreatedAfter.UTC())
	}

	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	arg(` LIMIT $%d`, limit)
	if filter.Offset > 0 {
		arg(` OFFSET $%d`, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: decode run row")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// snapshotColumns is the column order used for both the bulk upsert and
// the list query.
var snapshotColumns = []string{"identifier", "keyword", "captured_on", "organic_rank", "promoted_rank", "page_found"}

func (s *PostgresStore) SaveSnapshots(ctx context.Context, snaps []model.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(snaps))
	for _, sn := range snaps {
		rows = append(rows, []any{
			sn.Identifier, sn.Keyword, sn.CapturedOn.UTC(),
			nullableInt(sn.OrganicRank), nullableInt(sn.PromotedRank), nullableInt(sn.PageFound),
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "snapshots",
		Columns:      snapshotColumns,
		ConflictKeys: []string{"identifier", "keyword", "captured_on"},
	}, rows)
	return eris.Wrap(err, "postgres: save snapshots")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, identifier string, since time.Time) ([]model.Snapshot, error) {
	query := `SELECT identifier, keyword, captured_on, organic_rank, promoted_rank, page_found
	          FROM snapshots WHERE identifier = $1`
	args := []any{identifier}

	if !since.IsZero() {
		query += ` AND captured_on >= $2`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY captured_on DESC, keyword ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		var sn model.Snapshot
		if err := rows.Scan(&sn.Identifier, &sn.Keyword, &sn.CapturedOn,
			&sn.OrganicRank, &sn.PromotedRank, &sn.PageFound); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snaps = append(snaps, sn)
	}
	return snaps, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

// scanPgRun decodes one runs row. Callers wrap the returned error with
// query context; pgx.ErrNoRows passes through for not-found detection.
func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var reqJSON []byte
	var resultJSON *[]byte
	var errCode, errMessage *string
	var status string

	err := row.Scan(&r.ID, &reqJSON, &status, &resultJSON, &errCode, &errMessage, &r.Attempts, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)

	if err := json.Unmarshal(reqJSON, &r.Request); err != nil {
		return nil, eris.Wrap(err, "unmarshal request")
	}
	if resultJSON != nil {
		r.Result = &model.RankResult{}
		if err := json.Unmarshal(*resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	if errCode != nil && *errCode != "" {
		msg := ""
		if errMessage != nil {
			msg = *errMessage
		}
		r.Error = &model.ErrorInfo{Code: model.ErrorKind(*errCode), Message: msg}
	}
	return &r, nil
}
