package crawler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/glarus-data/instrument-cli/internal/model"
	"github.com/glarus-data/instrument-cli/internal/parser"
	"github.com/glarus-data/instrument-cli/internal/store"
)

// ErrRunCancelled signals that the run's registry entry was moved to
// cancelled by an operator while the crawl was in flight.
var ErrRunCancelled = eris.New("crawler: run cancelled")

// Crawler walks the catalog and persists every parsed item under a crawl
// run registry entry.
type Crawler struct {
	Store     store.Store
	Segmenter *Segmenter

	// SourceKind tags persisted records. Default "provider_api".
	SourceKind string

	// PollInterval is the re-poll cadence while a run is paused.
	// Default 2s.
	PollInterval time.Duration
}

// Run crawls every root prefix under the given registry entry. The run
// must be in status running. Item-level failures increment the run's error
// counters and do not stop the crawl; auth errors fail the run.
func (c *Crawler) Run(ctx context.Context, runID string, rootPrefixes []string) error {
	sourceKind := c.SourceKind
	if sourceKind == "" {
		sourceKind = parser.SourceProviderAPI
	}
	if len(rootPrefixes) == 0 {
		rootPrefixes = []string{""}
	}

	total, err := c.probeTotal(ctx, rootPrefixes)
	if err != nil {
		return c.failRun(ctx, runID, err)
	}
	if err := c.Store.SetRunTotal(ctx, runID, total); err != nil {
		return eris.Wrap(err, "crawler: set run total")
	}

	c.Segmenter.PageHook = func(ctx context.Context) error {
		return c.awaitRunnable(ctx, runID)
	}

	emit := func(raw json.RawMessage) error {
		return c.persistItem(ctx, runID, sourceKind, raw)
	}

	var fetched int
	for _, prefix := range rootPrefixes {
		stats, err := c.Segmenter.FetchSegment(ctx, prefix, emit)
		fetched += stats.Fetched

		for _, seg := range stats.FailedSegments {
			if ierr := c.Store.IncrementRunErrors(ctx, runID, seg.Error()); ierr != nil {
				zap.L().Warn("record segment failure", zap.Error(ierr))
			}
		}
		if stats.Truncated > 0 {
			zap.L().Warn("segments truncated at window edge",
				zap.String("prefix", prefix),
				zap.Int("truncated", stats.Truncated),
			)
		}
		if cerr := c.Store.SetRunCheckpoint(ctx, runID, fetched); cerr != nil {
			zap.L().Warn("set run checkpoint", zap.Error(cerr))
		}

		if err == nil {
			continue
		}
		if eris.Is(err, ErrRunCancelled) {
			// The registry entry is already terminal; stop quietly.
			zap.L().Info("crawl run cancelled", zap.String("run_id", runID))
			return nil
		}
		// Auth errors, cancellation, storage failures: all fatal to the run.
		return c.failRun(ctx, runID, err)
	}

	if err := c.Store.UpdateRunStatus(ctx, runID, model.RunStatusCompleted); err != nil {
		return eris.Wrap(err, "crawler: complete run")
	}
	zap.L().Info("crawl run completed",
		zap.String("run_id", runID),
		zap.Int("fetched", fetched),
	)
	return nil
}

// probeTotal sums the hit counts of all root prefixes.
func (c *Crawler) probeTotal(ctx context.Context, rootPrefixes []string) (int, error) {
	var total int
	for _, prefix := range rootPrefixes {
		n, err := c.Segmenter.catalog.ProbeCount(ctx, prefix)
		if err != nil {
			return 0, eris.Wrapf(err, "crawler: probe root %q", prefix)
		}
		total += n
	}
	return total, nil
}

// persistItem parses and upserts one catalog item. Parse failures count as
// item errors; only storage-layer failures abort the crawl.
func (c *Crawler) persistItem(ctx context.Context, runID, sourceKind string, raw json.RawMessage) error {
	rec, err := parser.ParseCatalogItem(raw)
	if err != nil {
		if ierr := c.Store.IncrementRunErrors(ctx, runID, err.Error()); ierr != nil {
			return eris.Wrap(ierr, "crawler: record item error")
		}
		return nil
	}

	isin := ""
	if rec.ISIN.Value != nil {
		isin = *rec.ISIN.Value
	}
	contentHash := parser.HashText(sourceKind + ":" + isin)

	if _, err := c.Store.UpsertInstrument(ctx, contentHash, sourceKind, string(raw), rec); err != nil {
		if eris.Is(err, store.ErrConflict) {
			// Conflicts are item-level failures: count and continue.
			if ierr := c.Store.IncrementRunErrors(ctx, runID, err.Error()); ierr != nil {
				return eris.Wrap(ierr, "crawler: record conflict")
			}
			return nil
		}
		return eris.Wrapf(err, "crawler: upsert %s", isin)
	}

	return c.Store.IncrementRunCompleted(ctx, runID, 1)
}

// awaitRunnable blocks while the run is paused and returns ErrRunCancelled
// once the registry entry reaches a terminal state.
func (c *Crawler) awaitRunnable(ctx context.Context, runID string) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for {
		run, err := c.Store.GetRun(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "crawler: poll run status")
		}

		switch run.Status {
		case model.RunStatusRunning:
			return nil
		case model.RunStatusPaused:
			zap.L().Debug("run paused, waiting", zap.String("run_id", runID))
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		default:
			return ErrRunCancelled
		}
	}
}

// failRun marks the run failed with the triggering error. Already-terminal
// runs are left as they are.
func (c *Crawler) failRun(ctx context.Context, runID string, cause error) error {
	// The trigger may be the context itself; registry writes still need one.
	ctx = context.WithoutCancel(ctx)
	if ierr := c.Store.IncrementRunErrors(ctx, runID, cause.Error()); ierr != nil {
		zap.L().Warn("record run failure", zap.Error(ierr))
	}
	if uerr := c.Store.UpdateRunStatus(ctx, runID, model.RunStatusFailed); uerr != nil && !eris.Is(uerr, store.ErrInvalidTransition) {
		zap.L().Warn("mark run failed", zap.Error(uerr))
	}
	return cause
}
