package enrich

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glarus-data/instrument-cli/internal/model"
	"github.com/glarus-data/instrument-cli/internal/resilience"
	"github.com/glarus-data/instrument-cli/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fetch func(isin string) (*model.Instrument, error)
}

func (f *fakeSource) FetchInstrument(ctx context.Context, isin string) (*model.Instrument, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[isin]++
	f.mu.Unlock()
	return f.fetch(isin)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// couponSource returns a record carrying only a coupon rate, so enriched
// candidates gain data but stay in the pending set (barrier still absent).
func couponSource() *fakeSource {
	return &fakeSource{fetch: func(isin string) (*model.Instrument, error) {
		rec := model.NewInstrument()
		rec.ISIN = model.NewField(isin, 0.9, "provider_api", "")
		rec.CouponRatePctPA = model.NewField(7.5, 0.8, "provider_api", "")
		return rec, nil
	}}
}

func newEnrichStore(t *testing.T, isins []string) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	for _, isin := range isins {
		rec := model.NewInstrument()
		rec.ISIN = model.NewField(isin, 0.9, "provider_api", "")
		_, err := st.UpsertInstrument(ctx, "hash-"+isin, "provider_api", "raw", rec)
		require.NoError(t, err)
	}
	return st
}

func newDriver(t *testing.T, st store.Store, src Source) *Driver {
	t.Helper()
	return &Driver{
		Store:          st,
		Source:         src,
		Workers:        2,
		CheckpointPath: filepath.Join(t.TempDir(), "checkpoint.json"),
	}
}

func isins(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("CH%010d", i+1)
	}
	return out
}

func TestDriver_RunCycle_EnrichesBatch(t *testing.T) {
	t.Parallel()

	st := newEnrichStore(t, isins(3))
	src := couponSource()
	d := newDriver(t, st, src)
	ctx := context.Background()

	res, err := d.RunCycle(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Enriched)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 3, res.Offset)
	assert.False(t, res.CycleComplete)

	recs, err := st.ListInstruments(ctx, store.InstrumentFilter{})
	require.NoError(t, err)
	for _, r := range recs {
		require.NotNil(t, r.Record.CouponRatePctPA.Value, "isin %s", r.ISIN)
		assert.Equal(t, 7.5, *r.Record.CouponRatePctPA.Value)
		// Raw text survives the enrichment re-persist.
		assert.Equal(t, "raw", r.RawText)
	}
}

func TestDriver_ResumeAcrossRestarts(t *testing.T) {
	t.Parallel()

	all := isins(5)
	st := newEnrichStore(t, all)
	src := couponSource()
	checkpointPath := filepath.Join(t.TempDir(), "checkpoint.json")
	ctx := context.Background()

	// Each cycle uses a fresh Driver, as a restarted process would.
	totalEnriched := 0
	cycles := 0
	for {
		d := &Driver{Store: st, Source: src, Workers: 2, CheckpointPath: checkpointPath}
		res, err := d.RunCycle(ctx, 2)
		require.NoError(t, err)
		if res.CycleComplete {
			break
		}
		totalEnriched += res.Enriched
		cycles++
		require.Less(t, cycles, 10, "cycle must terminate")
	}

	assert.Equal(t, 5, totalEnriched)
	assert.Equal(t, 5, src.callCount(), "each candidate fetched exactly once per full pass")
	for _, isin := range all {
		assert.Equal(t, 1, src.calls[isin], "isin %s", isin)
	}

	cp, err := LoadCheckpoint(checkpointPath)
	require.NoError(t, err)
	assert.Zero(t, cp.Offset, "offset resets after the pending set is exhausted")
	assert.Equal(t, 5, cp.TotalEnriched)
}

func TestDriver_EmptyPendingSetResetsOffset(t *testing.T) {
	t.Parallel()

	st := newEnrichStore(t, nil)
	d := newDriver(t, st, couponSource())

	require.NoError(t, SaveCheckpoint(d.CheckpointPath, &model.Checkpoint{Offset: 940}))

	res, err := d.RunCycle(context.Background(), 50)
	require.NoError(t, err)
	assert.True(t, res.CycleComplete)
	assert.Zero(t, res.Processed)

	cp, err := LoadCheckpoint(d.CheckpointPath)
	require.NoError(t, err)
	assert.Zero(t, cp.Offset)
}

func TestDriver_ItemFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	st := newEnrichStore(t, isins(4))
	src := &fakeSource{fetch: func(isin string) (*model.Instrument, error) {
		if isin == "CH0000000002" {
			return nil, resilience.NewTransientError(errors.New("catalog hiccup"), 503)
		}
		rec := model.NewInstrument()
		rec.ISIN = model.NewField(isin, 0.9, "provider_api", "")
		rec.CouponRatePctPA = model.NewField(7.5, 0.8, "provider_api", "")
		return rec, nil
	}}
	d := newDriver(t, st, src)

	res, err := d.RunCycle(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 3, res.Enriched)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "CH0000000002")
	assert.Equal(t, 4, res.Offset, "failures advance the offset too")
}

func TestDriver_AuthErrorAbortsCycle(t *testing.T) {
	t.Parallel()

	st := newEnrichStore(t, isins(6))
	src := &fakeSource{fetch: func(isin string) (*model.Instrument, error) {
		return nil, resilience.NewAuthError(errors.New("token expired"), 401)
	}}
	d := newDriver(t, st, src)
	d.Workers = 1

	res, err := d.RunCycle(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, resilience.IsAuthError(err))
	require.NotNil(t, res)
	assert.Less(t, res.Processed, 6, "auth error stops dispatch of the remaining batch")

	// Progress is still checkpointed for whatever was submitted.
	cp, cerr := LoadCheckpoint(d.CheckpointPath)
	require.NoError(t, cerr)
	assert.Equal(t, res.Processed, cp.Offset)
}

func TestDriver_UnchangedRecordNotRepersisted(t *testing.T) {
	t.Parallel()

	st := newEnrichStore(t, isins(2))
	src := &fakeSource{fetch: func(isin string) (*model.Instrument, error) {
		// Nothing new: same ISIN, no additional fields.
		rec := model.NewInstrument()
		rec.ISIN = model.NewField(isin, 0.9, "provider_api", "")
		return rec, nil
	}}
	d := newDriver(t, st, src)

	res, err := d.RunCycle(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Zero(t, res.Enriched)
	assert.Zero(t, res.Failed)
}

func TestDriver_ResetCheckpoint(t *testing.T) {
	t.Parallel()

	d := newDriver(t, newEnrichStore(t, nil), couponSource())
	require.NoError(t, SaveCheckpoint(d.CheckpointPath, &model.Checkpoint{Offset: 123, TotalEnriched: 9}))

	require.NoError(t, d.ResetCheckpoint())
	cp, err := LoadCheckpoint(d.CheckpointPath)
	require.NoError(t, err)
	assert.Zero(t, cp.Offset)
	assert.Zero(t, cp.TotalEnriched)
}
