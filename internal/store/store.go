// Package store persists normalized instrument records and the crawl run
// registry. Two backends implement the same interface: SQLite (default) and
// Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/glarus-data/instrument-cli/internal/model"
)

// ErrNotFound is returned when a record or run id does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrInvalidTransition is returned when a run status update violates the
// state machine (including any transition out of a terminal state).
var ErrInvalidTransition = eris.New("store: invalid status transition")

// ErrConflict is returned when a guarded update lost a race with a
// concurrent writer. Not expected under content-hash-keyed upserts.
var ErrConflict = eris.New("store: conflict")

// StoredInstrument is a persisted record plus its row-level bookkeeping.
// ReviewStatus and SourcePath are owned by external collaborators; everything
// else is immutable once written except through upsert of the same document
// hash.
type StoredInstrument struct {
	ID           string            `json:"id"`
	ContentHash  string            `json:"content_hash"`
	SourceKind   string            `json:"source_kind"`
	ISIN         string            `json:"isin,omitempty"`
	ProductType  string            `json:"product_type,omitempty"`
	ReviewStatus string            `json:"review_status"`
	SourcePath   string            `json:"source_file_path,omitempty"`
	Record       *model.Instrument `json:"record"`
	RawText      string            `json:"raw_text,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Candidate is one pending item for the enrichment driver.
type Candidate struct {
	ID          string
	ISIN        string
	ContentHash string
	Record      *model.Instrument
}

// InstrumentFilter specifies criteria for listing instruments.
type InstrumentFilter struct {
	Issuer      string `json:"issuer,omitempty"`
	ProductType string `json:"product_type,omitempty"`
	ISIN        string `json:"isin,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing crawl runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface shared by both backends.
type Store interface {
	// Instruments. UpsertInstrument is idempotent by content hash: the first
	// write assigns an id, later writes for the same hash update the record
	// in place and keep the id.
	UpsertInstrument(ctx context.Context, contentHash, sourceKind, rawText string, record *model.Instrument) (string, error)
	GetInstrument(ctx context.Context, id string) (*StoredInstrument, error)
	ListInstruments(ctx context.Context, filter InstrumentFilter) ([]StoredInstrument, error)
	CountInstruments(ctx context.Context, filter InstrumentFilter) (int, error)
	UpdateReviewStatus(ctx context.Context, id, status string) error
	UpdateSourcePath(ctx context.Context, id, path string) error

	// ListEnrichmentCandidates returns instruments with an ISIN but missing
	// coupon or barrier data, newest first. The composition of this set
	// changes as other pipelines fill data in, which is why the batch driver
	// resets its offset on an empty page.
	ListEnrichmentCandidates(ctx context.Context, limit, offset int) ([]Candidate, error)

	// Crawl run registry. Status reads hit the database directly so workers
	// polling between items see the latest committed write.
	CreateRun(ctx context.Context, name string) (*model.CrawlRun, error)
	GetRun(ctx context.Context, runID string) (*model.CrawlRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.CrawlRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SetRunTotal(ctx context.Context, runID string, total int) error
	SetRunCheckpoint(ctx context.Context, runID string, offset int) error
	IncrementRunCompleted(ctx context.Context, runID string, delta int) error
	IncrementRunErrors(ctx context.Context, runID string, errMsg string) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// ReviewStatusUnreviewed is the review state assigned at first persistence.
const ReviewStatusUnreviewed = "unreviewed"
