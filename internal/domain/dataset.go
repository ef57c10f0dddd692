package domain

import "time"

// FillValue marks masked cells in merged grids and absent track values.
const FillValue float32 = -999

// TrackPointDim is the leading dimension of every per-point output variable.
const TrackPointDim = "track_point"

// SwathDims are the native (scanline, field of view) dimensions shared by
// the geolocation grids of both products.
var SwathDims = []string{"Scanline", "Field_of_view"}

// Slot records what filled one track point's cell of a merged grid.
type Slot struct {
	Filled   bool
	SourceID string
	Time     time.Time     // nominal granule time
	Delta    time.Duration // signed granule time minus track point time
}

// MergedVar is one variable of a merged collection. Dims and Shape include the
// leading track-point dimension; Data is row-major.
type MergedVar struct {
	Name  string
	Dims  []string
	Shape []int
	Data  []float32
	Attrs []Attr
}

// Collection is the merged grids of one granule type.
type Collection struct {
	Type  GranuleType
	Slots []Slot
	Vars  []MergedVar
}

// Sources returns the source identifiers of filled slots, in slot order.
func (c *Collection) Sources() []string {
	var out []string
	for _, s := range c.Slots {
		if s.Filled {
			out = append(out, s.SourceID)
		}
	}
	return out
}

// FilledCount returns the number of filled slots.
func (c *Collection) FilledCount() int {
	n := 0
	for _, s := range c.Slots {
		if s.Filled {
			n++
		}
	}
	return n
}

// OutputDataset is the assembled artifact: the track, one collection per
// granule type, and ordered provenance attributes.
type OutputDataset struct {
	Name        string
	Year        int
	Track       Track
	Collections []*Collection
	Attrs       []Attr

	// TrackExtras names the optional per-point columns written as track
	// variables, in output order.
	TrackExtras []string
}

// Collection returns the collection of the given type, or nil.
func (d *OutputDataset) Collection(t GranuleType) *Collection {
	for _, c := range d.Collections {
		if c.Type == t {
			return c
		}
	}
	return nil
}
