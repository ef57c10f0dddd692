// Package mirs reads NOAA MiRS granule files (netCDF) from a directory: a
// header inventory for matching and a full reader for merging.
package mirs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/ncutil"
	"github.com/couchcryptid/storm-mirs-merge/internal/observability"
)

// Global attributes read from every granule.
const (
	attrTimeStart = "time_coverage_start"
	attrTimeEnd   = "time_coverage_end"
	attrBounds    = "geospatial_bounds"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102T150405Z",
}

// Classifier decides the product of a granule from its metadata.
type Classifier func(domain.GranuleMeta) (domain.GranuleType, error)

// Inventory lists the granules of a directory with their headers.
type Inventory struct {
	root     string
	cache    *HeaderCache
	classify Classifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewInventory creates an inventory of the .nc files directly under root.
// A nil classifier uses domain.ClassifyGranule.
func NewInventory(root string, cache *HeaderCache, classify Classifier, logger *slog.Logger, metrics *observability.Metrics) *Inventory {
	if classify == nil {
		classify = domain.ClassifyGranule
	}
	if cache == nil {
		cache = NewHeaderCache(1024)
	}
	return &Inventory{root: root, cache: cache, classify: classify, logger: logger, metrics: metrics}
}

// Root returns the granule directory.
func (inv *Inventory) Root() string { return inv.root }

// List returns the headers of every readable granule, sorted by source
// identifier. Unreadable or unclassifiable files are logged and skipped.
func (inv *Inventory) List(ctx context.Context) ([]domain.GranuleHeader, error) {
	entries, err := os.ReadDir(inv.root)
	if err != nil {
		return nil, fmt.Errorf("list granule dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".nc") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)

	headers := make([]domain.GranuleHeader, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inv.metrics.GranulesScanned.Inc()

		h, err := inv.header(name)
		if err != nil {
			inv.logger.Warn("skipping unreadable granule", "source", name, "error", err)
			inv.metrics.GranulesRejected.WithLabelValues(observability.ReasonReadError).Inc()
			continue
		}
		headers = append(headers, h)
	}
	return headers, nil
}

// Header returns the header of one granule, from cache when the file is unchanged.
func (inv *Inventory) Header(sourceID string) (domain.GranuleHeader, error) {
	return inv.header(sourceID)
}

func (inv *Inventory) header(name string) (domain.GranuleHeader, error) {
	path := filepath.Join(inv.root, name)
	info, err := os.Stat(path)
	if err != nil {
		return domain.GranuleHeader{}, &domain.GranuleReadError{SourceID: name, Err: err}
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
	if h, ok := inv.cache.get(name, stamp); ok {
		return h, nil
	}

	h, err := readHeader(path, name, inv.classify)
	if err != nil {
		return domain.GranuleHeader{}, &domain.GranuleReadError{SourceID: name, Err: err}
	}
	inv.cache.put(name, stamp, h)
	return h, nil
}

func readHeader(path, name string, classify Classifier) (domain.GranuleHeader, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return domain.GranuleHeader{}, err
	}
	defer nc.Close()

	attrs := nc.Attributes()
	meta := domain.GranuleMeta{
		SourceID:  name,
		Attrs:     stringAttrs(attrs),
		Variables: nc.ListVariables(),
	}
	typ, err := classify(meta)
	if err != nil {
		return domain.GranuleHeader{}, err
	}

	start, err := parseTime(meta.Attrs[attrTimeStart])
	if err != nil {
		return domain.GranuleHeader{}, fmt.Errorf("%s: %w", attrTimeStart, err)
	}
	end, err := parseTime(meta.Attrs[attrTimeEnd])
	if err != nil {
		return domain.GranuleHeader{}, fmt.Errorf("%s: %w", attrTimeEnd, err)
	}
	if end.Before(start) {
		return domain.GranuleHeader{}, fmt.Errorf("coverage ends %s before it starts %s", end, start)
	}

	h := domain.GranuleHeader{
		SourceID: name,
		Type:     typ,
		Start:    start,
		End:      end,
		Bounds:   meta.Attrs[attrBounds],
	}

	lonShape, lonData, lonFill, err := gridVar(nc, domain.LongitudeVar)
	if err != nil {
		return domain.GranuleHeader{}, err
	}
	_, latData, latFill, err := gridVar(nc, domain.LatitudeVar)
	if err != nil {
		return domain.GranuleHeader{}, err
	}
	var ok bool
	if h.LonMin, h.LonMax, ok = ncutil.MinMax(lonData, lonFill); !ok {
		return domain.GranuleHeader{}, fmt.Errorf("%s: no valid values", domain.LongitudeVar)
	}
	if h.LatMin, h.LatMax, ok = ncutil.MinMax(latData, latFill); !ok {
		return domain.GranuleHeader{}, fmt.Errorf("%s: no valid values", domain.LatitudeVar)
	}
	h.Shape = lonShape
	return h, nil
}

// gridVar reads a geolocation grid and its fill value.
func gridVar(nc api.Group, name string) ([]int, []float32, float32, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("variable %s: %w", name, err)
	}
	shape, data, err := ncutil.Flatten(v.Values)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("variable %s: %w", name, err)
	}
	return shape, data, fillValue(v.Attributes), nil
}

func fillValue(attrs api.AttributeMap) float32 {
	if f, ok := ncutil.AttrFloat(attrs, "_FillValue"); ok {
		return float32(f)
	}
	if f, ok := ncutil.AttrFloat(attrs, "missing_value"); ok {
		return float32(f)
	}
	return domain.FillValue
}

func stringAttrs(attrs api.AttributeMap) map[string]string {
	out := map[string]string{}
	if attrs == nil {
		return out
	}
	for _, key := range attrs.Keys() {
		if s := ncutil.AttrString(attrs, key); s != "" {
			out[key] = s
		}
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing time")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
