package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// TrackPoint is one best-track fix.
type TrackPoint struct {
	// Index is the position of the fix in the full storm track, preserved
	// when a subset of points is selected.
	Index   int
	StormID string
	Basin   string
	Time    time.Time
	Lat     float64
	Lon     float64 // degrees east in [-180, 180]

	// Intensity is absent for agencies/years that did not report it.
	Wind     *float64 // knots
	Pressure *float64 // millibars

	// Extra holds optional numeric columns such as wind radii, keyed by
	// archive column name. Absent keys mean the value was blank.
	Extra map[string]float64
}

// Lon360 returns the longitude in [0, 360).
func (p TrackPoint) Lon360() float64 {
	return math.Mod(360+math.Mod(p.Lon, 360), 360)
}

// Track is the time-ordered best track of one storm-year.
type Track struct {
	StormID string
	Name    string
	Year    int
	Points  []TrackPoint
}

// NewTrack validates and returns a track. Points must be non-empty, share one
// storm identifier, and have strictly increasing timestamps.
func NewTrack(name string, year int, points []TrackPoint) (Track, error) {
	if len(points) == 0 {
		return Track{}, errors.New("track has no points")
	}
	id := points[0].StormID
	for i, p := range points {
		if p.StormID != id {
			return Track{}, fmt.Errorf("track point %d: storm id %q, want %q", i, p.StormID, id)
		}
		if i > 0 && !p.Time.After(points[i-1].Time) {
			return Track{}, fmt.Errorf("track point %d: time %s not after %s",
				i, p.Time.Format(time.RFC3339), points[i-1].Time.Format(time.RFC3339))
		}
	}
	return Track{StormID: id, Name: name, Year: year, Points: points}, nil
}

// Len returns the number of points.
func (t Track) Len() int { return len(t.Points) }

// Select returns the sub-track holding only the given indices in ascending
// order. A nil slice selects every point. Out-of-range or repeated indices
// are an *InvalidIndexError.
func (t Track) Select(indices []int) (Track, error) {
	if indices == nil {
		return t, nil
	}
	if len(indices) == 0 {
		return Track{}, &InvalidIndexError{Index: -1, Len: t.Len(), Reason: "empty index subset"}
	}
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= t.Len() {
			return Track{}, &InvalidIndexError{Index: idx, Len: t.Len(), Reason: "out of range"}
		}
		if seen[idx] {
			return Track{}, &InvalidIndexError{Index: idx, Len: t.Len(), Reason: "repeated"}
		}
		seen[idx] = true
	}

	points := make([]TrackPoint, 0, len(indices))
	for i, p := range t.Points {
		if seen[i] {
			points = append(points, p)
		}
	}
	out := t
	out.Points = points
	return out, nil
}

// Indices returns the full-track index of every point.
func (t Track) Indices() []int {
	out := make([]int, len(t.Points))
	for i, p := range t.Points {
		out[i] = p.Index
	}
	return out
}

// StormMetadata is storm-level reference data from the archive.
type StormMetadata struct {
	StormID   string
	Name      string
	Season    int
	Basin     string // two-letter IBTrACS basin code, e.g. "NA"
	TimeStart string // first ISO_TIME of the full track
	LatMin    float64
	LatMax    float64
	LonMin    float64
	LonMax    float64
}

// MetadataFromTrack derives storm metadata from the track itself, for runs
// without the archive's netCDF companion file.
func MetadataFromTrack(t Track) StormMetadata {
	meta := StormMetadata{
		StormID: t.StormID,
		Name:    t.Name,
		Season:  t.Year,
		LatMin:  math.Inf(1),
		LatMax:  math.Inf(-1),
		LonMin:  math.Inf(1),
		LonMax:  math.Inf(-1),
	}
	for _, p := range t.Points {
		if meta.Basin == "" {
			meta.Basin = p.Basin
		}
		meta.LatMin = math.Min(meta.LatMin, p.Lat)
		meta.LatMax = math.Max(meta.LatMax, p.Lat)
		meta.LonMin = math.Min(meta.LonMin, p.Lon)
		meta.LonMax = math.Max(meta.LonMax, p.Lon)
	}
	if len(t.Points) > 0 {
		meta.TimeStart = t.Points[0].Time.UTC().Format(ISOTimeLayout)
	}
	return meta
}

// ISOTimeLayout is the IBTrACS ISO_TIME format.
const ISOTimeLayout = "2006-01-02 15:04:05"
