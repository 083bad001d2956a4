package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glarus-data/instrument-cli/internal/crawler"
	"github.com/glarus-data/instrument-cli/internal/enrich"
	"github.com/glarus-data/instrument-cli/internal/fetcher"
	"github.com/glarus-data/instrument-cli/internal/model"
	"github.com/glarus-data/instrument-cli/internal/store"
)

// stubCatalog serves a fixed set of catalog items keyed by ISIN prefix.
type stubCatalog struct {
	isins []string
}

func (c *stubCatalog) matching(query string) []string {
	var out []string
	for _, isin := range c.isins {
		if strings.HasPrefix(isin, query) {
			out = append(out, isin)
		}
	}
	return out
}

func (c *stubCatalog) ProbeCount(ctx context.Context, query string) (int, error) {
	return len(c.matching(query)), nil
}

func (c *stubCatalog) FetchPage(ctx context.Context, query string, offset, limit int) (*fetcher.Page, error) {
	hits := c.matching(query)
	page := &fetcher.Page{TotalHits: len(hits)}
	for i := offset; i < len(hits) && i < offset+limit; i++ {
		item := fmt.Sprintf(`{"identifiers":{"isin":%q}}`, hits[i])
		page.Items = append(page.Items, json.RawMessage(item))
	}
	return page, nil
}

type stubSource struct{}

func (stubSource) FetchInstrument(ctx context.Context, isin string) (*model.Instrument, error) {
	rec := model.NewInstrument()
	rec.ISIN = model.NewField(isin, 0.9, "provider_api", "")
	rec.CouponRatePctPA = model.NewField(7.5, 0.8, "provider_api", "")
	return rec, nil
}

func newTestServer(t *testing.T, isins []string) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	seg, err := crawler.NewSegmenter(&stubCatalog{isins: isins}, crawler.SegmenterConfig{
		PageSize:      3,
		WindowCeiling: 1000,
	})
	require.NoError(t, err)

	srv := &Server{
		Store: st,
		Crawler: &crawler.Crawler{
			Store:        st,
			Segmenter:    seg,
			PollInterval: 5 * time.Millisecond,
		},
		Enricher: &enrich.Driver{
			Store:          st,
			Source:         stubSource{},
			Workers:        2,
			CheckpointPath: filepath.Join(t.TempDir(), "checkpoint.json"),
		},
		DefaultPrefixes:  []string{""},
		DefaultBatchSize: 50,
	}
	return srv, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rr := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "ok", body["status"])
}

func TestStartRun_CrawlsToCompletion(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t, []string{
		"CH0000000001", "CH0000000002", "CH0000000003", "DE0000000004",
	})
	router := srv.Router()

	rr := doJSON(t, router, http.MethodPost, "/runs", map[string]any{"name": "nightly"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	run := decode[model.CrawlRun](t, rr)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "nightly", run.Name)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(context.Background(), run.ID)
		return err == nil && got.Status == model.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Completed)

	count, err := st.CountInstruments(context.Background(), store.InstrumentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestStartRun_BadBody(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rr := doJSON(t, srv.Router(), http.MethodGet, "/runs/no-such-id", nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "run not found", body["error"])
}

func TestRunTransitions(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t, nil)
	router := srv.Router()
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "lifecycle")
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodPost, "/runs/"+run.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.RunStatusPaused, decode[model.CrawlRun](t, rr).Status)

	rr = doJSON(t, router, http.MethodPost, "/runs/"+run.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.RunStatusRunning, decode[model.CrawlRun](t, rr).Status)

	rr = doJSON(t, router, http.MethodPost, "/runs/"+run.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	cancelled := decode[model.CrawlRun](t, rr)
	assert.Equal(t, model.RunStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.EndedAt)

	// Terminal runs reject further transitions.
	rr = doJSON(t, router, http.MethodPost, "/runs/"+run.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRunTransition_NotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rr := doJSON(t, srv.Router(), http.MethodPost, "/runs/missing/pause", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListRuns_StatusFilter(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t, nil)
	router := srv.Router()
	ctx := context.Background()

	first, err := st.CreateRun(ctx, "first")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, first.ID, model.RunStatusCompleted))
	_, err = st.CreateRun(ctx, "second")
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodGet, "/runs?status=completed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[struct {
		Runs []model.CrawlRun `json:"runs"`
	}](t, rr)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "first", body.Runs[0].Name)

	rr = doJSON(t, router, http.MethodGet, "/runs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListInstruments(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t, nil)
	router := srv.Router()
	ctx := context.Background()

	for i, issuer := range []string{"UBS AG", "UBS AG", "Leonteq AG"} {
		rec := model.NewInstrument()
		isin := fmt.Sprintf("CH%010d", i+1)
		rec.ISIN = model.NewField(isin, 0.9, "provider_api", "")
		rec.IssuerName = model.NewField(issuer, 0.9, "provider_api", "")
		_, err := st.UpsertInstrument(ctx, "hash-"+isin, "provider_api", "", rec)
		require.NoError(t, err)
	}

	rr := doJSON(t, router, http.MethodGet, "/instruments?issuer=UBS&limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[struct {
		Total int                      `json:"total"`
		Items []store.StoredInstrument `json:"items"`
	}](t, rr)
	assert.Equal(t, 2, body.Total)
	assert.Len(t, body.Items, 2)
}

func TestEnrichCycle(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t, nil)
	router := srv.Router()
	ctx := context.Background()

	rec := model.NewInstrument()
	rec.ISIN = model.NewField("CH0000000009", 0.9, "provider_api", "")
	_, err := st.UpsertInstrument(ctx, "hash-CH0000000009", "provider_api", "", rec)
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodPost, "/enrich/cycle", map[string]any{"batch_size": 10})
	require.Equal(t, http.StatusOK, rr.Code)

	res := decode[enrich.CycleResult](t, rr)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Enriched)
	assert.Zero(t, res.Failed)
}

func TestEnrichReset(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rr := doJSON(t, srv.Router(), http.MethodPost, "/enrich/reset", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "reset", body["status"])
}
