// Package crawler walks the provider catalog. The catalog only addresses
// the first results of any query (the result window), so queries matching
// more than the window must be subdivided into narrower prefix queries
// until every segment fits.
package crawler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/glarus-data/instrument-cli/internal/fetcher"
	"github.com/glarus-data/instrument-cli/internal/resilience"
)

// DefaultAlphabet is the prefix-extension symbol set. The provider's
// identifiers are uppercase alphanumerics.
const DefaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// SegmentError records a segment that could not be fetched. Siblings are
// unaffected; the error is surfaced through Stats.
type SegmentError struct {
	Prefix string
	Err    error
}

func (e SegmentError) Error() string {
	return fmt.Sprintf("segment %q: %v", e.Prefix, e.Err)
}

// Stats summarizes one FetchSegment walk.
type Stats struct {
	// Fetched counts items emitted.
	Fetched int
	// Truncated counts items beyond the result window in segments that hit
	// the subdivision depth cap and could not be narrowed further.
	Truncated int
	// FailedSegments lists prefixes whose probe or page fetch failed.
	FailedSegments []SegmentError
}

// SegmenterConfig tunes the pager. Zero values take defaults.
type SegmenterConfig struct {
	// PageSize is the item count per page request. Default 100.
	PageSize int
	// WindowCeiling is the provider's maximum addressable result offset.
	// Segments with at least this many hits are subdivided. Default 10000.
	WindowCeiling int
	// Alphabet is the symbol set used to extend prefixes. Empty means
	// DefaultAlphabet.
	Alphabet string
	// MaxDepth caps prefix extension. A segment still over the ceiling at
	// this depth is paged up to the window edge and the remainder counted
	// as truncated. Default 4.
	MaxDepth int
	// Limiter paces probe and page requests. Nil means no pacing.
	Limiter *rate.Limiter
}

// Segmenter fetches every item matching a prefix by recursive subdivision.
type Segmenter struct {
	catalog  fetcher.Catalog
	cfg      SegmenterConfig
	alphabet []rune

	// PageHook, when set, runs before every page request. The crawler uses
	// it to poll run status between pages. A non-nil return aborts the walk.
	PageHook func(ctx context.Context) error
}

// NewSegmenter validates the configuration and returns a pager.
func NewSegmenter(catalog fetcher.Catalog, cfg SegmenterConfig) (*Segmenter, error) {
	if catalog == nil {
		return nil, eris.New("crawler: nil catalog")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.WindowCeiling <= 0 {
		cfg.WindowCeiling = 10000
	}
	if cfg.Alphabet == "" {
		cfg.Alphabet = DefaultAlphabet
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 4
	}
	alphabet := []rune(cfg.Alphabet)
	if len(alphabet) == 0 {
		return nil, eris.New("crawler: empty alphabet")
	}
	return &Segmenter{catalog: catalog, cfg: cfg, alphabet: alphabet}, nil
}

// FetchSegment emits every catalog item matching prefix exactly once.
// Segment-level failures are recorded in Stats and do not stop sibling
// segments; auth errors, context cancellation and emit errors abort the
// whole walk.
func (s *Segmenter) FetchSegment(ctx context.Context, prefix string, emit func(json.RawMessage) error) (Stats, error) {
	var st Stats
	err := s.walk(ctx, prefix, 0, emit, &st)
	return st, err
}

func (s *Segmenter) walk(ctx context.Context, prefix string, depth int, emit func(json.RawMessage) error, st *Stats) error {
	if err := s.pace(ctx); err != nil {
		return err
	}

	count, err := s.catalog.ProbeCount(ctx, prefix)
	if err != nil {
		if s.fatal(ctx, err) {
			return err
		}
		st.FailedSegments = append(st.FailedSegments, SegmentError{Prefix: prefix, Err: err})
		zap.L().Warn("segment probe failed",
			zap.String("prefix", prefix),
			zap.Error(err),
		)
		return nil
	}
	if count == 0 {
		return nil
	}

	if count < s.cfg.WindowCeiling {
		return s.pageThrough(ctx, prefix, count, emit, st)
	}

	if depth >= s.cfg.MaxDepth {
		// Cannot narrow further: take what the window exposes.
		zap.L().Warn("segment still over window at depth cap",
			zap.String("prefix", prefix),
			zap.Int("hits", count),
			zap.Int("depth", depth),
		)
		return s.pageThrough(ctx, prefix, count, emit, st)
	}

	for _, sym := range s.alphabet {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.walk(ctx, prefix+string(sym), depth+1, emit, st); err != nil {
			return err
		}
	}
	return nil
}

// pageThrough fetches a segment page by page. Offsets never reach the
// window ceiling; hits beyond it count as truncated.
func (s *Segmenter) pageThrough(ctx context.Context, prefix string, count int, emit func(json.RawMessage) error, st *Stats) error {
	addressable := count
	if addressable > s.cfg.WindowCeiling {
		addressable = s.cfg.WindowCeiling
		st.Truncated += count - addressable
	}

	for offset := 0; offset < addressable; offset += s.cfg.PageSize {
		if s.PageHook != nil {
			if err := s.PageHook(ctx); err != nil {
				return err
			}
		}
		if err := s.pace(ctx); err != nil {
			return err
		}

		limit := s.cfg.PageSize
		if offset+limit > addressable {
			limit = addressable - offset
		}

		page, err := s.catalog.FetchPage(ctx, prefix, offset, limit)
		if err != nil {
			if s.fatal(ctx, err) {
				return err
			}
			st.FailedSegments = append(st.FailedSegments, SegmentError{
				Prefix: prefix,
				Err:    eris.Wrapf(err, "offset %d", offset),
			})
			return nil
		}

		for _, item := range page.Items {
			if err := emit(item); err != nil {
				return err
			}
			st.Fetched++
		}

		// A short page means the segment shrank under us; stop early
		// rather than re-requesting empty windows.
		if len(page.Items) < limit {
			break
		}
	}
	return nil
}

func (s *Segmenter) pace(ctx context.Context) error {
	if s.cfg.Limiter == nil {
		return nil
	}
	if err := s.cfg.Limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "crawler: rate limiter wait")
	}
	return nil
}

// fatal reports whether an error must abort the walk instead of being
// recorded as a per-segment failure.
func (s *Segmenter) fatal(ctx context.Context, err error) bool {
	return resilience.IsAuthError(err) || ctx.Err() != nil
}
