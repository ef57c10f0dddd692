package merger

import (
	"fmt"
	"slices"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// varSchema is the layout of one merged variable, taken from the first slot
// granule that carries it.
type varSchema struct {
	name  string
	dims  []string
	shape []int
	attrs []domain.Attr
}

func (s varSchema) cellSize() int {
	n := 1
	for _, d := range s.shape {
		n *= d
	}
	return n
}

// stack lays the slot granules out as (track_point, native dims...) grids.
// The variable set is the union over filled slots, geolocation first and
// the rest by name. A slot whose granule lacks a variable, or carries it
// with a different layout, keeps the fill value there.
func stack(granules []*domain.Granule) []domain.MergedVar {
	schemas := schemaOf(granules)
	n := len(granules)

	out := make([]domain.MergedVar, 0, len(schemas))
	for _, s := range schemas {
		cell := s.cellSize()
		data := make([]float32, n*cell)
		for i := range data {
			data[i] = domain.FillValue
		}
		for i, g := range granules {
			if g == nil {
				continue
			}
			v, ok := g.Var(s.name)
			if !ok || !slices.Equal(v.Shape, s.shape) || !slices.Equal(v.Dims, s.dims) {
				continue
			}
			copy(data[i*cell:(i+1)*cell], v.Data)
		}
		out = append(out, domain.MergedVar{
			Name:  s.name,
			Dims:  append([]string{domain.TrackPointDim}, s.dims...),
			Shape: append([]int{n}, s.shape...),
			Data:  data,
			Attrs: s.attrs,
		})
	}
	return out
}

// maskedGeolocation is the geolocation of a collection none of whose slots
// were filled: fill-only Latitude and Longitude grids of shape
// (n, swath...), so readers still find the native grid.
func maskedGeolocation(n int, swath []int) []domain.MergedVar {
	dims := make([]string, len(swath))
	for i := range swath {
		if i < len(domain.SwathDims) {
			dims[i] = domain.SwathDims[i]
		} else {
			dims[i] = fmt.Sprintf("dim_%d", i)
		}
	}
	s := varSchema{shape: swath}
	cell := s.cellSize()

	out := make([]domain.MergedVar, 0, 2)
	for _, name := range []string{domain.LatitudeVar, domain.LongitudeVar} {
		data := make([]float32, n*cell)
		for i := range data {
			data[i] = domain.FillValue
		}
		out = append(out, domain.MergedVar{
			Name:  name,
			Dims:  append([]string{domain.TrackPointDim}, dims...),
			Shape: append([]int{n}, swath...),
			Data:  data,
			Attrs: []domain.Attr{{Name: "_FillValue", Value: domain.FillValue}},
		})
	}
	return out
}

func schemaOf(granules []*domain.Granule) []varSchema {
	seen := map[string]bool{}
	var schemas []varSchema
	for _, g := range granules {
		if g == nil {
			continue
		}
		for _, v := range g.Vars {
			if seen[v.Name] {
				continue
			}
			seen[v.Name] = true
			schemas = append(schemas, varSchema{
				name:  v.Name,
				dims:  slices.Clone(v.Dims),
				shape: slices.Clone(v.Shape),
				attrs: v.Attrs,
			})
		}
	}
	slices.SortFunc(schemas, func(a, b varSchema) int {
		if ra, rb := rank(a.name), rank(b.name); ra != rb {
			return ra - rb
		}
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		default:
			return 0
		}
	})
	return schemas
}

func rank(name string) int {
	switch name {
	case domain.LatitudeVar:
		return 0
	case domain.LongitudeVar:
		return 1
	default:
		return 2
	}
}
