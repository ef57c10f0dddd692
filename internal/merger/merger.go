// Package merger stacks the matched granules of one type into per-track-point
// slots on a common swath grid.
package merger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/observability"
)

// GranuleReader loads a full granule by source identifier.
type GranuleReader interface {
	Read(ctx context.Context, sourceID string, typ domain.GranuleType) (*domain.Granule, error)
}

// Merger builds one Collection per granule type from a MatchSet.
type Merger struct {
	reader  GranuleReader
	opts    config.MergeOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a merger.
func New(reader GranuleReader, opts config.MergeOptions, logger *slog.Logger, metrics *observability.Metrics) *Merger {
	return &Merger{reader: reader, opts: opts, logger: logger, metrics: metrics}
}

// Merge fills one slot per track point of set with the closest-in-time
// granule of type typ that reads cleanly and has the reference swath shape.
// Candidates that fail either check are logged and skipped; a point with no
// usable candidate gets a masked slot. Only cancellation and reader failures
// other than *domain.GranuleReadError abort the merge.
func (m *Merger) Merge(ctx context.Context, set *domain.MatchSet, typ domain.GranuleType) (*domain.Collection, error) {
	ref := m.referenceShape(set, typ)
	loader := newGranuleLoader(m.reader, typ, ref, m.logger, m.metrics)

	n := len(set.Points)
	slots := make([]domain.Slot, n)
	granules := make([]*domain.Granule, n)

	g, gctx := errgroup.WithContext(ctx)
	if m.opts.Workers > 0 {
		g.SetLimit(m.opts.Workers)
	}
	for i := range set.Points {
		g.Go(func() error {
			pm := set.Points[i]
			for _, c := range domain.ByPreference(pm.Candidates[typ]) {
				gr, err := loader.load(gctx, c.Header.SourceID)
				if err != nil {
					if absorbed(err) {
						continue
					}
					return err
				}
				granules[i] = gr
				nominal := c.Header.NominalTime()
				slots[i] = domain.Slot{
					Filled:   true,
					SourceID: c.Header.SourceID,
					Time:     nominal,
					Delta:    nominal.Sub(pm.Point.Time),
				}
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("merge %s granules: %w", typ, err)
	}

	col := &domain.Collection{Type: typ, Slots: slots, Vars: stack(granules)}
	if len(col.Vars) == 0 && n > 0 {
		if swath := m.opts.SwathShape(typ.Prefix()); len(swath) > 0 {
			col.Vars = maskedGeolocation(n, swath)
		}
	}
	filled := col.FilledCount()
	m.metrics.SlotsFilled.WithLabelValues(typ.String()).Set(float64(filled))
	m.metrics.SlotsMasked.WithLabelValues(typ.String()).Set(float64(n - filled))
	m.logger.Info("granules merged",
		"type", typ.String(),
		"slots", n,
		"filled", filled,
		"reference_shape", ref,
	)
	return col, nil
}

// referenceShape is the configured shape for typ, or else the most common
// header shape among the matched granules. Ties go to the shape of the
// lexically first granule.
func (m *Merger) referenceShape(set *domain.MatchSet, typ domain.GranuleType) []int {
	if s := m.opts.SwathShape(typ.Prefix()); len(s) > 0 {
		return s
	}

	shapes := map[string][]int{}
	for _, pm := range set.Points {
		for _, c := range pm.Candidates[typ] {
			shapes[c.Header.SourceID] = c.Header.Shape
		}
	}
	ids := make([]string, 0, len(shapes))
	for id := range shapes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	type tally struct {
		shape []int
		count int
		first int
	}
	var tallies []*tally
	for i, id := range ids {
		var found *tally
		for _, t := range tallies {
			if slices.Equal(t.shape, shapes[id]) {
				found = t
				break
			}
		}
		if found == nil {
			found = &tally{shape: shapes[id], first: i}
			tallies = append(tallies, found)
		}
		found.count++
	}

	var best *tally
	for _, t := range tallies {
		if best == nil || t.count > best.count || (t.count == best.count && t.first < best.first) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	return best.shape
}

func absorbed(err error) bool {
	var re *domain.GranuleReadError
	var se *domain.ShapeMismatchError
	return errors.As(err, &re) || errors.As(err, &se)
}

// granuleLoader reads each granule at most once per merge, shared by the
// workers. Absorbed failures are logged and counted on first load.
type granuleLoader struct {
	reader  GranuleReader
	typ     domain.GranuleType
	ref     []int
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]*loadEntry
}

type loadEntry struct {
	once    sync.Once
	granule *domain.Granule
	err     error
}

func newGranuleLoader(r GranuleReader, typ domain.GranuleType, ref []int, logger *slog.Logger, metrics *observability.Metrics) *granuleLoader {
	return &granuleLoader{
		reader:  r,
		typ:     typ,
		ref:     ref,
		logger:  logger,
		metrics: metrics,
		entries: map[string]*loadEntry{},
	}
}

func (l *granuleLoader) load(ctx context.Context, id string) (*domain.Granule, error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &loadEntry{}
		l.entries[id] = e
	}
	l.mu.Unlock()

	e.once.Do(func() {
		e.granule, e.err = l.read(ctx, id)
	})
	return e.granule, e.err
}

func (l *granuleLoader) read(ctx context.Context, id string) (*domain.Granule, error) {
	g, err := l.reader.Read(ctx, id, l.typ)
	if err != nil {
		var re *domain.GranuleReadError
		if errors.As(err, &re) {
			l.logger.Warn("granule unreadable, treating as missing", "source", id, "type", l.typ.String(), "error", err)
			l.metrics.GranulesRejected.WithLabelValues(observability.ReasonReadError).Inc()
		}
		return nil, err
	}
	if got := g.SwathShape(); !slices.Equal(got, l.ref) {
		err := &domain.ShapeMismatchError{SourceID: id, Type: l.typ, Want: l.ref, Got: got}
		l.logger.Warn("granule shape mismatch, treating as missing", "source", id, "type", l.typ.String(), "error", err)
		l.metrics.GranulesRejected.WithLabelValues(observability.ReasonShape).Inc()
		return nil, err
	}
	return g, nil
}
