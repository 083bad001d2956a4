package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/glarus-data/instrument-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Declared as an
// interface so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS instruments (
	id               TEXT PRIMARY KEY,
	content_hash     TEXT NOT NULL UNIQUE,
	source_kind      TEXT NOT NULL,
	isin             TEXT,
	product_type     TEXT,
	review_status    TEXT NOT NULL DEFAULT 'unreviewed',
	source_file_path TEXT,
	normalized       JSONB NOT NULL,
	raw_text         TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	total             INTEGER NOT NULL DEFAULT 0,
	completed         INTEGER NOT NULL DEFAULT 0,
	errors_count      INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT,
	checkpoint_offset INTEGER NOT NULL DEFAULT 0,
	started_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at          TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_instruments_isin ON instruments(isin);
CREATE INDEX IF NOT EXISTS idx_instruments_product_type ON instruments(product_type);
CREATE INDEX IF NOT EXISTS idx_instruments_updated_at ON instruments(updated_at);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_status ON crawl_runs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertInstrument(ctx context.Context, contentHash, sourceKind, rawText string, record *model.Instrument) (string, error) {
	normalized, err := json.Marshal(record)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal record")
	}

	isin, productType := indexedColumns(record)
	now := time.Now().UTC()

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO instruments (id, content_hash, source_kind, isin, product_type, review_status, normalized, raw_text, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (content_hash) DO UPDATE SET
			source_kind  = EXCLUDED.source_kind,
			isin         = EXCLUDED.isin,
			product_type = EXCLUDED.product_type,
			normalized   = EXCLUDED.normalized,
			raw_text     = COALESCE(NULLIF(EXCLUDED.raw_text, ''), instruments.raw_text),
			updated_at   = EXCLUDED.updated_at
		 RETURNING id`,
		uuid.New().String(), contentHash, sourceKind, isin, productType,
		ReviewStatusUnreviewed, normalized, rawText, now, now,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: upsert instrument %s", contentHash)
	}
	return id, nil
}

func (s *PostgresStore) GetInstrument(ctx context.Context, id string) (*StoredInstrument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, content_hash, source_kind, isin, product_type, review_status, source_file_path, normalized, raw_text, created_at, updated_at
		 FROM instruments WHERE id = $1`, id)
	si, err := scanInstrumentPG(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return si, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context, filter InstrumentFilter) ([]StoredInstrument, error) {
	query := `SELECT id, content_hash, source_kind, isin, product_type, review_status, source_file_path, normalized, raw_text, created_at, updated_at
		FROM instruments WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Issuer != "" {
		query += fmt.Sprintf(` AND normalized->'issuer_name'->>'value' ILIKE '%%' || $%d || '%%'`, argIdx)
		args = append(args, filter.Issuer)
		argIdx++
	}
	if filter.ProductType != "" {
		query += fmt.Sprintf(` AND product_type = $%d`, argIdx)
		args = append(args, filter.ProductType)
		argIdx++
	}
	if filter.ISIN != "" {
		query += fmt.Sprintf(` AND isin = $%d`, argIdx)
		args = append(args, filter.ISIN)
		argIdx++
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list instruments")
	}
	defer rows.Close()

	var out []StoredInstrument
	for rows.Next() {
		si, err := scanInstrumentPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *si)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list instruments iterate")
}

func (s *PostgresStore) CountInstruments(ctx context.Context, filter InstrumentFilter) (int, error) {
	query := `SELECT COUNT(*) FROM instruments WHERE true`
	args := []any{}
	argIdx := 1
	if filter.Issuer != "" {
		query += fmt.Sprintf(` AND normalized->'issuer_name'->>'value' ILIKE '%%' || $%d || '%%'`, argIdx)
		args = append(args, filter.Issuer)
		argIdx++
	}
	if filter.ProductType != "" {
		query += fmt.Sprintf(` AND product_type = $%d`, argIdx)
		args = append(args, filter.ProductType)
		argIdx++
	}
	if filter.ISIN != "" {
		query += fmt.Sprintf(` AND isin = $%d`, argIdx)
		args = append(args, filter.ISIN)
	}

	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count instruments")
	}
	return n, nil
}

func (s *PostgresStore) UpdateReviewStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE instruments SET review_status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update review status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateSourcePath(ctx context.Context, id, path string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE instruments SET source_file_path = $1, updated_at = $2 WHERE id = $3`,
		path, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source path %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) ListEnrichmentCandidates(ctx context.Context, limit, offset int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, isin, content_hash, normalized
		 FROM instruments
		 WHERE isin IS NOT NULL AND isin != ''
		   AND (
			normalized->'coupon_rate_pct_pa'->>'value' IS NULL
			OR normalized->'underlyings'->0->'barrier_level'->>'value' IS NULL
		   )
		 ORDER BY updated_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichment candidates")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var normalized []byte
		if err := rows.Scan(&c.ID, &c.ISIN, &c.ContentHash, &normalized); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		c.Record = &model.Instrument{}
		if err := json.Unmarshal(normalized, c.Record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal candidate record")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: candidates iterate")
}

// -- crawl runs --

func (s *PostgresStore) CreateRun(ctx context.Context, name string) (*model.CrawlRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_runs (id, name, status, started_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, name, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.CrawlRun{
		ID:        id,
		Name:      name,
		Status:    model.RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.CrawlRun, error) {
	r, err := scanRunPG(s.pool.QueryRow(ctx,
		`SELECT id, name, status, total, completed, errors_count, last_error, checkpoint_offset, started_at, updated_at, ended_at
		 FROM crawl_runs WHERE id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CrawlRun, error) {
	query := `SELECT id, name, status, total, completed, errors_count, last_error, checkpoint_offset, started_at, updated_at, ended_at
		FROM crawl_runs WHERE true`
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.CrawlRun
	for rows.Next() {
		r, err := scanRunPG(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !model.CanTransition(run.Status, status) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", run.Status, status)
	}

	now := time.Now().UTC()
	var tag pgconn.CommandTag
	if status.Terminal() {
		tag, err = s.pool.Exec(ctx,
			`UPDATE crawl_runs SET status = $1, updated_at = $2, ended_at = $3 WHERE id = $4 AND status = $5`,
			string(status), now, now, runID, string(run.Status),
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE crawl_runs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			string(status), now, runID, string(run.Status),
		)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "run %s changed status concurrently", runID)
	}
	return nil
}

func (s *PostgresStore) SetRunTotal(ctx context.Context, runID string, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_runs SET total = $1, updated_at = $2 WHERE id = $3`,
		total, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run total %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) SetRunCheckpoint(ctx context.Context, runID string, offset int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_runs SET checkpoint_offset = $1, updated_at = $2 WHERE id = $3`,
		offset, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run checkpoint %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) IncrementRunCompleted(ctx context.Context, runID string, delta int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_runs SET completed = completed + $1, updated_at = $2 WHERE id = $3`,
		delta, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment run completed %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) IncrementRunErrors(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_runs SET errors_count = errors_count + 1, last_error = $1, updated_at = $2 WHERE id = $3`,
		truncateError(errMsg), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment run errors %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

// -- scan helpers --

func scanInstrumentPG(row pgx.Row) (*StoredInstrument, error) {
	var si StoredInstrument
	var isin, productType, sourcePath, rawText *string
	var normalized []byte

	err := row.Scan(&si.ID, &si.ContentHash, &si.SourceKind, &isin, &productType,
		&si.ReviewStatus, &sourcePath, &normalized, &rawText, &si.CreatedAt, &si.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan instrument")
	}

	if isin != nil {
		si.ISIN = *isin
	}
	if productType != nil {
		si.ProductType = *productType
	}
	if sourcePath != nil {
		si.SourcePath = *sourcePath
	}
	if rawText != nil {
		si.RawText = *rawText
	}
	si.Record = &model.Instrument{}
	if err := json.Unmarshal(normalized, si.Record); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal instrument record")
	}
	si.Record.ID = si.ID
	return &si, nil
}

func scanRunPG(row pgx.Row) (*model.CrawlRun, error) {
	var r model.CrawlRun
	var lastError *string
	var endedAt *time.Time

	err := row.Scan(&r.ID, &r.Name, &r.Status, &r.Total, &r.Completed, &r.ErrorsCount,
		&lastError, &r.CheckpointOffset, &r.StartedAt, &r.UpdatedAt, &endedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if lastError != nil {
		r.LastError = *lastError
	}
	r.EndedAt = endedAt
	return &r, nil
}
