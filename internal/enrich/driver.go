package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/glarus-data/instrument-cli/internal/merge"
	"github.com/glarus-data/instrument-cli/internal/model"
	"github.com/glarus-data/instrument-cli/internal/resilience"
	"github.com/glarus-data/instrument-cli/internal/store"
)

// Source fetches fresh data for a single instrument, already parsed to a
// partial record.
type Source interface {
	FetchInstrument(ctx context.Context, isin string) (*model.Instrument, error)
}

// Driver runs enrichment cycles over the store's pending candidates.
type Driver struct {
	Store  store.Store
	Source Source

	// Workers bounds concurrent item fetches. Default 4.
	Workers int

	// Delay is the fixed pause before each item fetch. Zero means none.
	Delay time.Duration

	// CheckpointPath locates the progress file.
	CheckpointPath string

	// Prefer is the merge allow-list: json field names the fetched data
	// may override even when the stored record already has a value.
	Prefer map[string]bool
}

// CycleResult summarizes one RunCycle invocation.
type CycleResult struct {
	// Processed counts candidates attempted this cycle.
	Processed int `json:"processed"`
	// Enriched counts records that actually changed and were re-persisted.
	Enriched int `json:"enriched"`
	// Failed counts candidates whose fetch, merge or persist failed.
	Failed int `json:"failed"`
	// Offset is the checkpoint offset after this cycle.
	Offset int `json:"offset"`
	// CycleComplete is true when the pending set was exhausted and the
	// offset wrapped back to zero.
	CycleComplete bool `json:"cycle_complete"`
	// Errors holds per-item failure messages, in no particular order.
	Errors []string `json:"errors,omitempty"`
}

// RunCycle processes the next batch of enrichment candidates. The offset
// advances by the number of candidates submitted to the pool, checkpointed
// after the pool drains, so a crash mid-batch re-processes at most one
// batch. An exhausted pending set resets the offset to zero. Auth errors
// stop dispatch and surface as the cycle error; other item failures are
// counted and do not stop siblings.
func (d *Driver) RunCycle(ctx context.Context, batchSize int) (*CycleResult, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	workers := d.Workers
	if workers <= 0 {
		workers = 4
	}

	cp, err := LoadCheckpoint(d.CheckpointPath)
	if err != nil {
		return nil, err
	}

	candidates, err := d.Store.ListEnrichmentCandidates(ctx, batchSize, cp.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list candidates")
	}

	if len(candidates) == 0 {
		cp.Offset = 0
		cp.LastRun = time.Now().UTC()
		if err := SaveCheckpoint(d.CheckpointPath, cp); err != nil {
			return nil, err
		}
		zap.L().Info("enrichment cycle complete, offset reset")
		return &CycleResult{CycleComplete: true}, nil
	}

	var enriched, failed atomic.Int64
	var mu sync.Mutex
	var itemErrors []string
	recordFailure := func(isin string, err error) {
		failed.Add(1)
		mu.Lock()
		itemErrors = append(itemErrors, isin+": "+err.Error())
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	submitted := 0
	for _, cand := range candidates {
		if gctx.Err() != nil {
			break
		}
		submitted++
		g.Go(func() error {
			if d.Delay > 0 {
				timer := time.NewTimer(d.Delay)
				select {
				case <-gctx.Done():
					timer.Stop()
					return gctx.Err()
				case <-timer.C:
				}
			}

			err := d.enrichOne(gctx, cand, &enriched)
			if err == nil {
				return nil
			}
			if resilience.IsAuthError(err) {
				// Fatal: stop dispatching the rest of the batch.
				recordFailure(cand.ISIN, err)
				return err
			}
			recordFailure(cand.ISIN, err)
			return nil
		})
	}

	cycleErr := g.Wait()

	// Advance past everything submitted, even failures: retrying the same
	// offset forever would wedge the cycle on a poison item.
	cp.Offset += submitted
	cp.TotalEnriched += int(enriched.Load())
	cp.TotalFailed += int(failed.Load())
	cp.LastRun = time.Now().UTC()
	if err := SaveCheckpoint(d.CheckpointPath, cp); err != nil {
		return nil, err
	}

	result := &CycleResult{
		Processed: submitted,
		Enriched:  int(enriched.Load()),
		Failed:    int(failed.Load()),
		Offset:    cp.Offset,
		Errors:    itemErrors,
	}
	zap.L().Info("enrichment batch done",
		zap.Int("processed", result.Processed),
		zap.Int("enriched", result.Enriched),
		zap.Int("failed", result.Failed),
		zap.Int("offset", result.Offset),
	)
	if cycleErr != nil {
		return result, eris.Wrap(cycleErr, "enrich: cycle aborted")
	}
	return result, nil
}

// enrichOne fetches fresh data for one candidate, merges it into the
// stored record and persists the result when it changed.
func (d *Driver) enrichOne(ctx context.Context, cand store.Candidate, enriched *atomic.Int64) error {
	fetched, err := d.Source.FetchInstrument(ctx, cand.ISIN)
	if err != nil {
		return err
	}

	merged, audit := merge.Merge(cand.Record, fetched, d.Prefer)
	if model.StructurallyEqual(cand.Record, merged) {
		return nil
	}

	if len(audit) > 0 {
		zap.L().Debug("enrichment overrode fields",
			zap.String("isin", cand.ISIN),
			zap.Int("overrides", len(audit)),
		)
	}

	if _, err := d.Store.UpsertInstrument(ctx, cand.ContentHash, sourceKindOf(cand), "", merged); err != nil {
		return err
	}
	enriched.Add(1)
	return nil
}

// sourceKindOf preserves the record's original source kind on re-persist.
func sourceKindOf(cand store.Candidate) string {
	if cand.Record != nil && cand.Record.ISIN.Source != "" && cand.Record.ISIN.Source != model.SourceUnknown {
		return cand.Record.ISIN.Source
	}
	return model.SourceUnknown
}

// ResetCheckpoint zeroes the driver's progress file.
func (d *Driver) ResetCheckpoint() error {
	return SaveCheckpoint(d.CheckpointPath, &model.Checkpoint{LastRun: time.Now().UTC()})
}
