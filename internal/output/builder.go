// Package output assembles the merged dataset for one storm-year and
// persists it as a netCDF artifact.
package output

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// ArtifactName is the dataset name for a storm-year, e.g. "IDA_2021_all_data".
func ArtifactName(name string, year int) string {
	return fmt.Sprintf("%s_%d_all_data", strings.ToUpper(strings.TrimSpace(name)), year)
}

// Build assembles the output dataset from the track, one collection per
// granule type, and the storm metadata. Every collection must hold exactly
// one slot per track point. The attributes carry no wall-clock values, so
// identical inputs produce identical datasets.
func Build(tr domain.Track, img, snd *domain.Collection, meta domain.StormMetadata, name string, year int, opts config.MergeOptions) (*domain.OutputDataset, error) {
	if tr.Len() == 0 {
		return nil, fmt.Errorf("build %s: empty track", ArtifactName(name, year))
	}
	cols := []*domain.Collection{img, snd}
	for i, want := range domain.GranuleTypes {
		if err := checkCollection(cols[i], want, tr.Len()); err != nil {
			return nil, fmt.Errorf("build %s: %w", ArtifactName(name, year), err)
		}
	}

	ds := &domain.OutputDataset{
		Name:        ArtifactName(name, year),
		Year:        year,
		Track:       tr,
		Collections: cols,
		TrackExtras: opts.TrackExtraVars,
	}
	ds.Attrs = provenance(ds, meta, opts)
	return ds, nil
}

func checkCollection(c *domain.Collection, want domain.GranuleType, n int) error {
	if c == nil {
		return fmt.Errorf("missing %s collection", want)
	}
	if c.Type != want {
		return fmt.Errorf("collection is %s, want %s", c.Type, want)
	}
	if len(c.Slots) != n {
		return fmt.Errorf("%s collection has %d slots for %d track points", want, len(c.Slots), n)
	}
	for _, v := range c.Vars {
		if len(v.Shape) == 0 || v.Shape[0] != n {
			return fmt.Errorf("%s variable %s has shape %v for %d track points", want, v.Name, v.Shape, n)
		}
		if len(v.Dims) != len(v.Shape) {
			return fmt.Errorf("%s variable %s has %d dims for shape %v", want, v.Name, len(v.Dims), v.Shape)
		}
	}
	return nil
}

func provenance(ds *domain.OutputDataset, meta domain.StormMetadata, opts config.MergeOptions) []domain.Attr {
	attrs := []domain.Attr{
		{Name: "Conventions", Value: "CF-1.8"},
		{Name: "title", Value: fmt.Sprintf("MiRS granules merged along the %s %d best track", strings.ToUpper(ds.Track.Name), ds.Year)},
		{Name: "dataset_name", Value: ds.Name},
		{Name: "TC_name", Value: strings.ToUpper(ds.Track.Name)},
		{Name: "TC_year", Value: int32(ds.Year)},
		{Name: "TC_sid", Value: orDash(meta.StormID)},
		{Name: "TC_basin", Value: orDash(meta.Basin)},
		{Name: "TC_time_start", Value: orDash(meta.TimeStart)},
		{Name: "TC_minimum_lat", Value: round2(meta.LatMin)},
		{Name: "TC_minimum_lon", Value: round2(meta.LonMin)},
		{Name: "TC_maximum_lat", Value: round2(meta.LatMax)},
		{Name: "TC_maximum_lon", Value: round2(meta.LonMax)},
		{Name: "track_point_count", Value: int32(ds.Track.Len())},
		{Name: "time_tolerance_seconds", Value: opts.TimeTolerance.Seconds()},
		{Name: "filter_missing_wmo", Value: boolString(opts.FilterMissingWMOFor(ds.Year))},
		{Name: "dateline_excluded_basins", Value: orDash(strings.Join(opts.DatelineExcludedBasins, ","))},
		{Name: "dateline_edge_degrees", Value: opts.DatelineEdgeDegrees},
		{Name: "require_footprint", Value: boolString(opts.RequireFootprint)},
		{Name: "fill_value", Value: domain.FillValue},
	}
	for _, c := range ds.Collections {
		p := c.Type.Prefix()
		sources := uniqueSorted(c.Sources())
		attrs = append(attrs,
			domain.Attr{Name: p + "_source_count", Value: int32(len(sources))},
			domain.Attr{Name: p + "_sources", Value: orDash(strings.Join(sources, ","))},
			domain.Attr{Name: p + "_slot_sources", Value: slotSources(c)},
		)
	}
	return attrs
}

// slotSources lists the source of each slot in track order, "-" for masked
// slots.
func slotSources(c *domain.Collection) string {
	parts := make([]string, len(c.Slots))
	for i, s := range c.Slots {
		parts[i] = "-"
		if s.Filled {
			parts[i] = s.SourceID
		}
	}
	return strings.Join(parts, ",")
}

func uniqueSorted(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

// Empty strings are not stored reliably as classic netCDF attributes.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func round2(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return float64(domain.FillValue)
	}
	return math.Round(v*100) / 100
}
