package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/glarus-data/instrument-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS instruments (
	id               TEXT PRIMARY KEY,
	content_hash     TEXT NOT NULL UNIQUE,
	source_kind      TEXT NOT NULL,
	isin             TEXT,
	product_type     TEXT,
	review_status    TEXT NOT NULL DEFAULT 'unreviewed',
	source_file_path TEXT,
	normalized       TEXT NOT NULL,
	raw_text         TEXT,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
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
	started_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	ended_at          DATETIME
);

CREATE INDEX IF NOT EXISTS idx_instruments_isin ON instruments(isin);
CREATE INDEX IF NOT EXISTS idx_instruments_product_type ON instruments(product_type);
CREATE INDEX IF NOT EXISTS idx_instruments_updated_at ON instruments(updated_at);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_status ON crawl_runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertInstrument(ctx context.Context, contentHash, sourceKind, rawText string, record *model.Instrument) (string, error) {
	normalized, err := json.Marshal(record)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal record")
	}

	isin, productType := indexedColumns(record)
	now := time.Now().UTC()

	var id string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO instruments (id, content_hash, source_kind, isin, product_type, review_status, normalized, raw_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET
			source_kind = excluded.source_kind,
			isin        = excluded.isin,
			product_type = excluded.product_type,
			normalized  = excluded.normalized,
			raw_text    = COALESCE(NULLIF(excluded.raw_text, ''), instruments.raw_text),
			updated_at  = excluded.updated_at
		 RETURNING id`,
		uuid.New().String(), contentHash, sourceKind, isin, productType,
		ReviewStatusUnreviewed, string(normalized), rawText, now, now,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: upsert instrument %s", contentHash)
	}
	return id, nil
}

func (s *SQLiteStore) GetInstrument(ctx context.Context, id string) (*StoredInstrument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_hash, source_kind, isin, product_type, review_status, source_file_path, normalized, raw_text, created_at, updated_at
		 FROM instruments WHERE id = ?`, id)
	return scanInstrument(row)
}

func (s *SQLiteStore) ListInstruments(ctx context.Context, filter InstrumentFilter) ([]StoredInstrument, error) {
	query := `SELECT id, content_hash, source_kind, isin, product_type, review_status, source_file_path, normalized, raw_text, created_at, updated_at
		FROM instruments WHERE 1=1`
	var args []any

	if filter.Issuer != "" {
		query += ` AND json_extract(normalized, '$.issuer_name.value') LIKE '%' || ? || '%'`
		args = append(args, filter.Issuer)
	}
	if filter.ProductType != "" {
		query += ` AND product_type = ?`
		args = append(args, filter.ProductType)
	}
	if filter.ISIN != "" {
		query += ` AND isin = ?`
		args = append(args, filter.ISIN)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list instruments")
	}
	defer rows.Close()

	var out []StoredInstrument
	for rows.Next() {
		si, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *si)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list instruments iterate")
}

func (s *SQLiteStore) CountInstruments(ctx context.Context, filter InstrumentFilter) (int, error) {
	query := `SELECT COUNT(*) FROM instruments WHERE 1=1`
	var args []any
	if filter.Issuer != "" {
		query += ` AND json_extract(normalized, '$.issuer_name.value') LIKE '%' || ? || '%'`
		args = append(args, filter.Issuer)
	}
	if filter.ProductType != "" {
		query += ` AND product_type = ?`
		args = append(args, filter.ProductType)
	}
	if filter.ISIN != "" {
		query += ` AND isin = ?`
		args = append(args, filter.ISIN)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count instruments")
	}
	return n, nil
}

func (s *SQLiteStore) UpdateReviewStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instruments SET review_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update review status %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) UpdateSourcePath(ctx context.Context, id, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instruments SET source_file_path = ?, updated_at = ? WHERE id = ?`,
		path, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source path %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) ListEnrichmentCandidates(ctx context.Context, limit, offset int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, isin, content_hash, normalized
		 FROM instruments
		 WHERE isin IS NOT NULL AND isin != ''
		   AND (
			json_extract(normalized, '$.coupon_rate_pct_pa.value') IS NULL
			OR json_extract(normalized, '$.underlyings[0].barrier_level.value') IS NULL
		   )
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enrichment candidates")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var normalized string
		if err := rows.Scan(&c.ID, &c.ISIN, &c.ContentHash, &normalized); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		c.Record = &model.Instrument{}
		if err := json.Unmarshal([]byte(normalized), c.Record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal candidate record")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: candidates iterate")
}

// -- crawl runs --

func (s *SQLiteStore) CreateRun(ctx context.Context, name string) (*model.CrawlRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, name, status, started_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.CrawlRun{
		ID:        id,
		Name:      name,
		Status:    model.RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.CrawlRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, total, completed, errors_count, last_error, checkpoint_offset, started_at, updated_at, ended_at
		 FROM crawl_runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CrawlRun, error) {
	query := `SELECT id, name, status, total, completed, errors_count, last_error, checkpoint_offset, started_at, updated_at, ended_at
		FROM crawl_runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.CrawlRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// UpdateRunStatus validates the transition against the state machine and
// stamps ended_at exactly when the run enters a terminal state. The UPDATE is
// guarded on the observed status so a concurrent writer cannot sneak a run
// out of a terminal state.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !model.CanTransition(run.Status, status) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", run.Status, status)
	}

	now := time.Now().UTC()
	var res sql.Result
	if status.Terminal() {
		res, err = s.db.ExecContext(ctx,
			`UPDATE crawl_runs SET status = ?, updated_at = ?, ended_at = ? WHERE id = ? AND status = ?`,
			string(status), now, now, runID, string(run.Status),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE crawl_runs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(status), now, runID, string(run.Status),
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrConflict, "run %s changed status concurrently", runID)
	}
	return nil
}

func (s *SQLiteStore) SetRunTotal(ctx context.Context, runID string, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET total = ?, updated_at = ? WHERE id = ?`,
		total, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run total %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) SetRunCheckpoint(ctx context.Context, runID string, offset int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET checkpoint_offset = ?, updated_at = ? WHERE id = ?`,
		offset, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run checkpoint %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) IncrementRunCompleted(ctx context.Context, runID string, delta int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET completed = completed + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment run completed %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) IncrementRunErrors(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET errors_count = errors_count + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		truncateError(errMsg), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment run errors %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// -- helpers --

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

// indexedColumns pulls the values duplicated into filterable columns.
func indexedColumns(record *model.Instrument) (isin, productType string) {
	if record == nil {
		return "", ""
	}
	if record.ISIN.Value != nil {
		isin = *record.ISIN.Value
	}
	if record.ProductType.Value != nil {
		productType = *record.ProductType.Value
	}
	return isin, productType
}

func truncateError(msg string) string {
	const maxLen = 500
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}

type scannable interface {
	Scan(dest ...any) error
}

func scanInstrument(row scannable) (*StoredInstrument, error) {
	var si StoredInstrument
	var isin, productType, sourcePath, rawText sql.NullString
	var normalized string

	err := row.Scan(&si.ID, &si.ContentHash, &si.SourceKind, &isin, &productType,
		&si.ReviewStatus, &sourcePath, &normalized, &rawText, &si.CreatedAt, &si.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan instrument")
	}

	si.ISIN = isin.String
	si.ProductType = productType.String
	si.SourcePath = sourcePath.String
	si.RawText = rawText.String
	si.Record = &model.Instrument{}
	if err := json.Unmarshal([]byte(normalized), si.Record); err != nil {
		return nil, eris.Wrap(err, "unmarshal instrument record")
	}
	si.Record.ID = si.ID
	return &si, nil
}

func scanRun(row scannable) (*model.CrawlRun, error) {
	var r model.CrawlRun
	var lastError sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Name, &r.Status, &r.Total, &r.Completed, &r.ErrorsCount,
		&lastError, &r.CheckpointOffset, &r.StartedAt, &r.UpdatedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	r.LastError = lastError.String
	if endedAt.Valid {
		t := endedAt.Time
		r.EndedAt = &t
	}
	return &r, nil
}
