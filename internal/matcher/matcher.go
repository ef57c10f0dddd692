// Package matcher pairs best-track points with the MiRS granules observed
// within a time tolerance of each point.
package matcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/observability"
)

// Inventory lists the granule headers available to the matcher.
type Inventory interface {
	List(ctx context.Context) ([]domain.GranuleHeader, error)
}

// Matcher assigns granules to track points.
type Matcher struct {
	inv     Inventory
	opts    config.MergeOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a matcher over inv.
func New(inv Inventory, opts config.MergeOptions, logger *slog.Logger, metrics *observability.Metrics) *Matcher {
	return &Matcher{inv: inv, opts: opts, logger: logger, metrics: metrics}
}

// Match returns, for each selected track point, the granules of each type
// whose nominal time lies within the tolerance of the point. A nil indices
// selects the whole track.
//
// An invalid index fails the call with *domain.InvalidIndexError. Points
// left without a granule of some type are reported as *domain.NoGranulesError
// values joined into the returned error, alongside a complete MatchSet; use
// errors.As to tell the two apart.
func (m *Matcher) Match(ctx context.Context, tr domain.Track, basin string, indices []int) (*domain.MatchSet, error) {
	sel, err := tr.Select(indices)
	if err != nil {
		return nil, err
	}

	headers, err := m.inv.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list granules: %w", err)
	}
	headers = m.admissible(headers, basin)

	fp := newFootprints(m.logger)
	set := &domain.MatchSet{Track: sel, Points: make([]domain.PointMatch, 0, sel.Len())}
	var missing []error

	for _, p := range sel.Points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pm := domain.PointMatch{Point: p, Candidates: map[domain.GranuleType][]domain.Candidate{}}
		for _, h := range headers {
			delta := absDuration(h.NominalTime().Sub(p.Time))
			if delta > m.opts.TimeTolerance {
				continue
			}
			if m.opts.RequireFootprint && !fp.contains(h, orb.Point{p.Lon, p.Lat}) {
				m.metrics.GranulesRejected.WithLabelValues(observability.ReasonFootprint).Inc()
				continue
			}
			pm.Candidates[h.Type] = append(pm.Candidates[h.Type], domain.Candidate{Header: h, Delta: delta})
		}
		for _, typ := range domain.GranuleTypes {
			if len(pm.Candidates[typ]) == 0 {
				missing = append(missing, &domain.NoGranulesError{Index: p.Index, Type: typ})
			}
		}
		set.Points = append(set.Points, pm)
	}

	for _, typ := range domain.GranuleTypes {
		m.metrics.GranulesMatched.WithLabelValues(typ.String()).Add(float64(len(set.Sources(typ))))
	}

	m.logger.Info("granules matched",
		"storm", tr.Name,
		"points", sel.Len(),
		"granules", len(headers),
		"imagery_sources", len(set.Sources(domain.Imagery)),
		"sounding_sources", len(set.Sources(domain.Sounding)),
		"unmatched", len(missing),
	)
	return set, errors.Join(missing...)
}

// admissible returns the headers usable for a storm of the given basin,
// sorted by source identifier.
func (m *Matcher) admissible(headers []domain.GranuleHeader, basin string) []domain.GranuleHeader {
	excluded := m.opts.DatelineExcluded(basin)
	out := make([]domain.GranuleHeader, 0, len(headers))
	for _, h := range headers {
		if excluded && WrapsDateline(h, m.opts.DatelineEdgeDegrees) {
			m.logger.Debug("rejecting dateline-wrapped granule", "source", h.SourceID, "basin", basin)
			m.metrics.GranulesRejected.WithLabelValues(observability.ReasonDateline).Inc()
			continue
		}
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b domain.GranuleHeader) int {
		return cmp.Compare(a.SourceID, b.SourceID)
	})
	return out
}

// WrapsDateline reports whether a granule's longitudes reach both edges of
// the [-180, 180] range, within edge degrees.
func WrapsDateline(h domain.GranuleHeader, edge float64) bool {
	return h.LonMin <= -180+edge && h.LonMax >= 180-edge
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
