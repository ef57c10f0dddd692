package matcher

import (
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// footprints memoizes the parsed geospatial_bounds of each granule for one
// Match call.
type footprints struct {
	logger *slog.Logger
	geoms  map[string]orb.Geometry
}

func newFootprints(logger *slog.Logger) *footprints {
	return &footprints{logger: logger, geoms: map[string]orb.Geometry{}}
}

// contains reports whether pt (lon, lat) lies in the granule footprint: the
// WKT bounds polygon when present and parseable, else the grid bounding box.
func (f *footprints) contains(h domain.GranuleHeader, pt orb.Point) bool {
	g, ok := f.geoms[h.SourceID]
	if !ok {
		g = f.parse(h)
		f.geoms[h.SourceID] = g
	}

	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, pt)
	case orb.Bound:
		return geom.Contains(pt)
	default:
		return false
	}
}

func (f *footprints) parse(h domain.GranuleHeader) orb.Geometry {
	box := orb.Bound{
		Min: orb.Point{h.LonMin, h.LatMin},
		Max: orb.Point{h.LonMax, h.LatMax},
	}
	if h.Bounds == "" {
		return box
	}
	g, err := wkt.Unmarshal(h.Bounds)
	if err != nil {
		f.logger.Debug("unparseable geospatial_bounds, using grid extent", "source", h.SourceID, "error", err)
		return box
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return g
	default:
		return box
	}
}
