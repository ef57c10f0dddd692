package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// GranuleType distinguishes the two MiRS products. They have different
// native grids and are never resampled onto each other.
type GranuleType int

const (
	Imagery GranuleType = iota + 1
	Sounding
)

// GranuleTypes lists every type in output order.
var GranuleTypes = []GranuleType{Imagery, Sounding}

func (t GranuleType) String() string {
	switch t {
	case Imagery:
		return "imagery"
	case Sounding:
		return "sounding"
	default:
		return fmt.Sprintf("GranuleType(%d)", int(t))
	}
}

// Prefix is the short name used for output variables and dimensions.
func (t GranuleType) Prefix() string {
	switch t {
	case Imagery:
		return "img"
	case Sounding:
		return "snd"
	default:
		return "unk"
	}
}

// GranuleMeta is what an inventory knows about a file before classification:
// its global attributes (string-valued ones) and variable names.
type GranuleMeta struct {
	SourceID  string
	Attrs     map[string]string
	Variables []string
}

// classificationAttrs are the global attributes inspected for a product
// keyword, in order.
var classificationAttrs = []string{"product_type", "title", "summary"}

// soundingMarkers / imageryMarkers are variables only present in one product.
var (
	soundingMarkers = []string{"PTemp", "PVapor", "Player"}
	imageryMarkers  = []string{"TPW", "CLW", "RR", "Emis"}
)

// ClassifyGranule decides the product of a granule from its metadata. Product
// keywords in the global attributes win; otherwise marker variables decide.
func ClassifyGranule(meta GranuleMeta) (GranuleType, error) {
	for _, key := range classificationAttrs {
		v := strings.ToUpper(meta.Attrs[key])
		if v == "" {
			continue
		}
		switch {
		case strings.Contains(v, "SND") || strings.Contains(v, "SOUNDING"):
			return Sounding, nil
		case strings.Contains(v, "IMG") || strings.Contains(v, "IMAGING") || strings.Contains(v, "IMAGERY"):
			return Imagery, nil
		}
	}
	for _, name := range soundingMarkers {
		if slices.Contains(meta.Variables, name) {
			return Sounding, nil
		}
	}
	for _, name := range imageryMarkers {
		if slices.Contains(meta.Variables, name) {
			return Imagery, nil
		}
	}
	return 0, fmt.Errorf("granule %s: cannot determine product type", meta.SourceID)
}

// GranuleHeader is the cheap-to-read part of a granule used for matching.
type GranuleHeader struct {
	SourceID string // file name relative to the granule root
	Type     GranuleType
	Start    time.Time
	End      time.Time

	// Geolocation extent of the swath grid.
	LatMin, LatMax float64
	LonMin, LonMax float64

	// Bounds is the geospatial_bounds WKT polygon, empty if absent.
	Bounds string

	// Shape is the swath shape (scanlines, fields of view).
	Shape []int
}

// NominalTime is the midpoint of the coverage interval.
func (h GranuleHeader) NominalTime() time.Time {
	return h.Start.Add(h.End.Sub(h.Start) / 2)
}

// Attr is one netCDF attribute. Value holds a Go string, number, or number slice.
type Attr struct {
	Name  string
	Value any
}

// Variable is one decoded granule variable, flattened in row-major order.
type Variable struct {
	Name  string
	Dims  []string
	Shape []int
	Data  []float32
	Attrs []Attr
}

// Granule is a fully loaded overpass file.
type Granule struct {
	Header GranuleHeader
	Vars   []Variable
}

// Geolocation variable names shared by both products.
const (
	LatitudeVar  = "Latitude"
	LongitudeVar = "Longitude"
)

// Var returns the named variable.
func (g *Granule) Var(name string) (*Variable, bool) {
	for i := range g.Vars {
		if g.Vars[i].Name == name {
			return &g.Vars[i], true
		}
	}
	return nil, false
}

// SwathShape is the shape of the longitude grid.
func (g *Granule) SwathShape() []int {
	if v, ok := g.Var(LongitudeVar); ok {
		return v.Shape
	}
	return nil
}
