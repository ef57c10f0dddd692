// Package pipeline runs one storm-year merge: load the track, match and
// merge granules, build and write the artifact, then announce it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/observability"
	"github.com/couchcryptid/storm-mirs-merge/internal/output"
)

// TrackLoader reads the best track of a storm-year.
type TrackLoader interface {
	Load(name string, year int) (domain.Track, error)
}

// MetadataSource looks up storm-level reference data.
type MetadataSource interface {
	StormMetadata(sid string, season int) (domain.StormMetadata, error)
}

// Matcher pairs track points with granules.
type Matcher interface {
	Match(ctx context.Context, tr domain.Track, basin string, indices []int) (*domain.MatchSet, error)
}

// Merger builds the merged collection of one granule type.
type Merger interface {
	Merge(ctx context.Context, set *domain.MatchSet, typ domain.GranuleType) (*domain.Collection, error)
}

// ArtifactWriter persists the output dataset and returns its path.
type ArtifactWriter interface {
	Write(ds *domain.OutputDataset) (string, error)
}

// Notifier announces a written artifact.
type Notifier interface {
	NotifyArtifact(ctx context.Context, ds *domain.OutputDataset, path string) error
}

// Request names the storm-year to merge. Nil Indices selects every track point.
type Request struct {
	Name    string
	Year    int
	Indices []int
}

// Result describes a completed run.
type Result struct {
	Path    string
	Dataset *domain.OutputDataset

	// Unmatched lists the (track point, type) pairs that got no granule.
	Unmatched []*domain.NoGranulesError
}

// Pipeline wires the merge stages together.
type Pipeline struct {
	loader   TrackLoader
	matcher  Matcher
	merger   Merger
	writer   ArtifactWriter
	meta     MetadataSource
	notifier Notifier
	opts     config.MergeOptions
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMetadata reads storm metadata from src instead of deriving it from the track.
func WithMetadata(src MetadataSource) Option {
	return func(p *Pipeline) { p.meta = src }
}

// WithNotifier publishes an event after every written artifact.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// New creates a Pipeline with the given stages and observability.
func New(l TrackLoader, m Matcher, mg Merger, w ArtifactWriter, opts config.MergeOptions, logger *slog.Logger, metrics *observability.Metrics, options ...Option) *Pipeline {
	p := &Pipeline{
		loader:  l,
		matcher: m,
		merger:  mg,
		writer:  w,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Run merges one storm-year and writes its artifact. Missing granules are
// tolerated (their slots are masked) unless StrictCompleteness is set, in
// which case the joined *domain.NoGranulesError values are returned and
// nothing is written.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	p.metrics.RunSuccess.Set(0)
	log := p.logger.With("storm", req.Name, "year", req.Year)
	log.Info("merge started", "indices", req.Indices)

	var tr domain.Track
	err := p.stage("load", func() error {
		var err error
		tr, err = p.loader.Load(req.Name, req.Year)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load track: %w", err)
	}
	meta := p.metadata(log, tr)

	var set *domain.MatchSet
	var unmatched []*domain.NoGranulesError
	err = p.stage("match", func() error {
		var err error
		set, err = p.matcher.Match(ctx, tr, meta.Basin, req.Indices)
		if set == nil {
			return err
		}
		unmatched = noGranules(err)
		if err != nil && len(unmatched) == 0 {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("match granules: %w", err)
	}
	p.metrics.TrackPoints.Set(float64(set.Track.Len()))
	if len(unmatched) > 0 {
		if p.opts.StrictCompleteness {
			errs := make([]error, len(unmatched))
			for i, e := range unmatched {
				errs[i] = e
			}
			return nil, fmt.Errorf("incomplete match: %w", errors.Join(errs...))
		}
		log.Warn("track points without granules, slots will be masked", "count", len(unmatched))
	}

	cols := make(map[domain.GranuleType]*domain.Collection, len(domain.GranuleTypes))
	err = p.stage("merge", func() error {
		for _, typ := range domain.GranuleTypes {
			c, err := p.merger.Merge(ctx, set, typ)
			if err != nil {
				return err
			}
			cols[typ] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var ds *domain.OutputDataset
	var path string
	err = p.stage("write", func() error {
		var err error
		ds, err = output.Build(set.Track, cols[domain.Imagery], cols[domain.Sounding], meta, req.Name, req.Year, p.opts)
		if err != nil {
			return err
		}
		path, err = p.writer.Write(ds)
		return err
	})
	if err != nil {
		return nil, err
	}

	if p.notifier != nil {
		if err := p.notifier.NotifyArtifact(ctx, ds, path); err != nil {
			log.Warn("artifact notification failed", "path", path, "error", err)
		}
	}

	p.metrics.RunSuccess.Set(1)
	log.Info("merge finished",
		"path", path,
		"track_points", set.Track.Len(),
		"imagery_filled", cols[domain.Imagery].FilledCount(),
		"sounding_filled", cols[domain.Sounding].FilledCount(),
	)
	return &Result{Path: path, Dataset: ds, Unmatched: unmatched}, nil
}

// stage runs fn and records its duration.
func (p *Pipeline) stage(name string, fn func() error) error {
	clock := domain.Clock()
	start := clock.Now()
	err := fn()
	p.metrics.StageDuration.WithLabelValues(name).Observe(clock.Since(start).Seconds())
	return err
}

// metadata describes the full storm, not the selected subset.
func (p *Pipeline) metadata(log *slog.Logger, tr domain.Track) domain.StormMetadata {
	derived := domain.MetadataFromTrack(tr)
	if p.meta == nil {
		return derived
	}
	meta, err := p.meta.StormMetadata(tr.StormID, tr.Year)
	if err != nil {
		log.Warn("storm metadata unavailable, deriving from track", "sid", tr.StormID, "error", err)
		return derived
	}
	if meta.Basin == "" {
		meta.Basin = derived.Basin
	}
	if meta.Name == "" {
		meta.Name = derived.Name
	}
	return meta
}

// noGranules extracts the *domain.NoGranulesError values from a joined error.
func noGranules(err error) []*domain.NoGranulesError {
	if err == nil {
		return nil
	}
	var errs []error
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs = j.Unwrap()
	} else {
		errs = []error{err}
	}
	var out []*domain.NoGranulesError
	for _, e := range errs {
		var ng *domain.NoGranulesError
		if errors.As(e, &ng) {
			out = append(out, ng)
		}
	}
	return out
}
