package mirs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/ncutil"
)

// Reader loads full granules for merging.
type Reader struct {
	inv         *Inventory
	soundVars   []string
	imgDropVars []string
	logger      *slog.Logger
}

// NewReader creates a reader over the inventory's directory. The variable
// lists come from opts.
func NewReader(inv *Inventory, opts config.MergeOptions, logger *slog.Logger) *Reader {
	return &Reader{
		inv:         inv,
		soundVars:   opts.SoundingVars,
		imgDropVars: opts.ImageryDropVars,
		logger:      logger,
	}
}

// Read loads the granule with the given source identifier. Sounding granules
// keep geolocation plus the configured sounding variables; imagery granules
// keep everything except the configured drop list. Fill values are rewritten
// to domain.FillValue. Every failure is a *domain.GranuleReadError.
func (r *Reader) Read(ctx context.Context, sourceID string, typ domain.GranuleType) (*domain.Granule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.inv.Header(sourceID)
	if err != nil {
		return nil, err
	}
	if h.Type != typ {
		return nil, &domain.GranuleReadError{SourceID: sourceID, Err: fmt.Errorf("granule is %s, want %s", h.Type, typ)}
	}

	vars, err := r.readVars(filepath.Join(r.inv.Root(), sourceID), typ)
	if err != nil {
		return nil, &domain.GranuleReadError{SourceID: sourceID, Err: err}
	}
	return &domain.Granule{Header: h, Vars: vars}, nil
}

func (r *Reader) readVars(path string, typ domain.GranuleType) ([]domain.Variable, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	names := r.selectVars(nc.ListVariables(), typ)
	if !slices.Contains(names, domain.LatitudeVar) || !slices.Contains(names, domain.LongitudeVar) {
		return nil, fmt.Errorf("missing geolocation variables")
	}

	vars := make([]domain.Variable, 0, len(names))
	for _, name := range names {
		v, err := nc.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		shape, data, err := ncutil.Flatten(v.Values)
		if err != nil {
			// Character and compound variables have no grid to merge.
			r.logger.Debug("skipping non-numeric variable", "variable", name, "error", err)
			continue
		}
		if len(shape) != len(v.Dimensions) {
			return nil, fmt.Errorf("variable %s: %d dimensions for shape %v", name, len(v.Dimensions), shape)
		}
		unpack(data, fillValue(v.Attributes), v.Attributes)
		vars = append(vars, domain.Variable{
			Name:  name,
			Dims:  slices.Clone(v.Dimensions),
			Shape: shape,
			Data:  data,
			Attrs: varAttrs(v.Attributes),
		})
	}
	return vars, nil
}

// selectVars returns geolocation first, then the kept variables sorted by name.
func (r *Reader) selectVars(available []string, typ domain.GranuleType) []string {
	var rest []string
	for _, name := range available {
		if name == domain.LatitudeVar || name == domain.LongitudeVar {
			continue
		}
		switch typ {
		case domain.Sounding:
			if slices.Contains(r.soundVars, name) {
				rest = append(rest, name)
			}
		default:
			if !slices.Contains(r.imgDropVars, name) {
				rest = append(rest, name)
			}
		}
	}
	slices.Sort(rest)

	var out []string
	for _, geo := range []string{domain.LatitudeVar, domain.LongitudeVar} {
		if slices.Contains(available, geo) {
			out = append(out, geo)
		}
	}
	return append(out, rest...)
}

// unpack applies scale_factor/add_offset to valid cells and rewrites fill
// cells to domain.FillValue.
func unpack(data []float32, fill float32, m api.AttributeMap) {
	scale, hasScale := ncutil.AttrFloat(m, "scale_factor")
	if !hasScale {
		scale = 1
	}
	offset, _ := ncutil.AttrFloat(m, "add_offset")
	for i, f := range data {
		if f == fill {
			data[i] = domain.FillValue
			continue
		}
		if scale != 1 || offset != 0 {
			data[i] = float32(float64(f)*scale + offset)
		}
	}
}

// varAttrs keeps the storable attributes, with the fill rewritten to match
// the merged grids.
func varAttrs(m api.AttributeMap) []domain.Attr {
	attrs := ncutil.Attrs(m)
	out := make([]domain.Attr, 0, len(attrs)+1)
	for _, a := range attrs {
		switch a.Name {
		case "_FillValue", "missing_value", "scale_factor", "add_offset":
			continue
		}
		out = append(out, a)
	}
	return append(out, domain.Attr{Name: "_FillValue", Value: domain.FillValue})
}
