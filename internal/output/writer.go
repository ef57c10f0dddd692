package output

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/ncutil"
)

const timeUnits = "seconds since 1970-01-01 00:00:00"

// Writer persists output datasets as netCDF files in a directory.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a writer targeting dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// Write stores ds as "<dir>/<ds.Name>.nc" and returns the path. The file is
// written under a temporary name and renamed into place, so a failed write
// never leaves a partial artifact. Failures are *domain.WriteError.
func (w *Writer) Write(ds *domain.OutputDataset) (string, error) {
	path := filepath.Join(w.dir, ds.Name+".nc")

	vars, err := datasetVars(ds)
	if err != nil {
		return "", &domain.WriteError{Path: path, Err: err}
	}
	global, err := ncutil.OrderedMap(ds.Attrs)
	if err != nil {
		return "", &domain.WriteError{Path: path, Err: err}
	}

	tmp, err := tempPath(w.dir, ds.Name)
	if err != nil {
		return "", &domain.WriteError{Path: path, Err: err}
	}
	defer os.Remove(tmp) // no-op after a successful rename

	if err := writeFile(tmp, vars, global); err != nil {
		return "", &domain.WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", &domain.WriteError{Path: path, Err: err}
	}

	w.logger.Info("artifact written", "path", path, "variables", len(vars), "track_points", ds.Track.Len())
	return path, nil
}

// tempPath reserves a unique file name next to the final artifact.
func tempPath(dir, name string) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+"-*.nc.tmp")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	// The cdf writer creates its own file.
	if err := os.Remove(tmp); err != nil {
		return "", err
	}
	return tmp, nil
}

func writeFile(path string, vars []namedVar, global api.AttributeMap) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if err := cw.AddVar(v.name, v.v); err != nil {
			_ = cw.Close()
			return fmt.Errorf("variable %s: %w", v.name, err)
		}
	}
	if err := cw.AddGlobalAttrs(global); err != nil {
		_ = cw.Close()
		return fmt.Errorf("global attributes: %w", err)
	}
	return cw.Close()
}

type namedVar struct {
	name string
	v    api.Variable
}

// datasetVars lays out every output variable: the track first, then each
// collection's slot bookkeeping and merged grids.
func datasetVars(ds *domain.OutputDataset) ([]namedVar, error) {
	vars, err := trackVars(ds)
	if err != nil {
		return nil, err
	}
	for _, c := range ds.Collections {
		cv, err := collectionVars(c)
		if err != nil {
			return nil, err
		}
		vars = append(vars, cv...)
	}
	return vars, nil
}

func trackVars(ds *domain.OutputDataset) ([]namedVar, error) {
	points := ds.Track.Points
	n := len(points)
	dims := []string{domain.TrackPointDim}

	index := make([]int32, n)
	times := make([]float64, n)
	lat := make([]float64, n)
	lon := make([]float64, n)
	lon360 := make([]float64, n)
	wind := make([]float32, n)
	pres := make([]float32, n)
	for i, p := range points {
		index[i] = int32(p.Index)
		times[i] = float64(p.Time.Unix())
		lat[i] = p.Lat
		lon[i] = p.Lon
		lon360[i] = p.Lon360()
		wind[i] = optional(p.Wind)
		pres[i] = optional(p.Pressure)
	}

	specs := []struct {
		name   string
		values any
		attrs  []domain.Attr
	}{
		{"track_index", index, []domain.Attr{{Name: "long_name", Value: "index of the point in the full best track"}}},
		{"time", times, []domain.Attr{{Name: "units", Value: timeUnits}, {Name: "calendar", Value: "standard"}}},
		{"lat", lat, []domain.Attr{{Name: "units", Value: "degrees_north"}}},
		{"lon", lon, []domain.Attr{{Name: "units", Value: "degrees_east"}}},
		{"lon_360", lon360, []domain.Attr{{Name: "units", Value: "degrees_east"}}},
		{"wmo_wind", wind, []domain.Attr{{Name: "units", Value: "kts"}, {Name: "_FillValue", Value: domain.FillValue}}},
		{"wmo_pres", pres, []domain.Attr{{Name: "units", Value: "mb"}, {Name: "_FillValue", Value: domain.FillValue}}},
	}

	out := make([]namedVar, 0, len(specs)+len(ds.TrackExtras))
	for _, s := range specs {
		v, err := variable(s.values, dims, s.attrs)
		if err != nil {
			return nil, fmt.Errorf("track variable %s: %w", s.name, err)
		}
		out = append(out, namedVar{s.name, v})
	}

	for _, col := range ds.TrackExtras {
		data := make([]float32, n)
		for i, p := range points {
			data[i] = domain.FillValue
			if x, ok := p.Extra[col]; ok {
				data[i] = float32(x)
			}
		}
		v, err := variable(data, dims, []domain.Attr{{Name: "_FillValue", Value: domain.FillValue}})
		if err != nil {
			return nil, fmt.Errorf("track variable %s: %w", col, err)
		}
		out = append(out, namedVar{strings.ToLower(col), v})
	}
	return out, nil
}

func collectionVars(c *domain.Collection) ([]namedVar, error) {
	p := c.Type.Prefix()
	n := len(c.Slots)
	dims := []string{domain.TrackPointDim}

	filled := make([]int8, n)
	times := make([]float64, n)
	dt := make([]float64, n)
	for i, s := range c.Slots {
		times[i] = float64(domain.FillValue)
		dt[i] = float64(domain.FillValue)
		if s.Filled {
			filled[i] = 1
			times[i] = float64(s.Time.Unix())
			dt[i] = s.Delta.Seconds()
		}
	}

	out := make([]namedVar, 0, 3+len(c.Vars))
	for _, s := range []struct {
		name   string
		values any
		attrs  []domain.Attr
	}{
		{p + "_slot_filled", filled, []domain.Attr{{Name: "flag_values", Value: []int8{0, 1}}, {Name: "flag_meanings", Value: "masked filled"}}},
		{p + "_slot_time", times, []domain.Attr{{Name: "units", Value: timeUnits}, {Name: "_FillValue", Value: float64(domain.FillValue)}}},
		{p + "_slot_dt", dt, []domain.Attr{{Name: "units", Value: "s"}, {Name: "long_name", Value: "granule time minus track point time"}, {Name: "_FillValue", Value: float64(domain.FillValue)}}},
	} {
		v, err := variable(s.values, dims, s.attrs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		out = append(out, namedVar{s.name, v})
	}

	for _, mv := range c.Vars {
		values, err := ncutil.Nest(mv.Data, mv.Shape)
		if err != nil {
			return nil, fmt.Errorf("%s_%s: %w", p, mv.Name, err)
		}
		v, err := variable(values, prefixDims(p, mv.Dims), mv.Attrs)
		if err != nil {
			return nil, fmt.Errorf("%s_%s: %w", p, mv.Name, err)
		}
		out = append(out, namedVar{p + "_" + mv.Name, v})
	}
	return out, nil
}

// prefixDims keeps the leading track_point dimension and namespaces the
// native ones, since imagery and sounding grids differ in size.
func prefixDims(prefix string, dims []string) []string {
	out := make([]string, len(dims))
	for i, d := range dims {
		if i == 0 && d == domain.TrackPointDim {
			out[i] = d
			continue
		}
		out[i] = prefix + "_" + d
	}
	return out
}

func variable(values any, dims []string, attrs []domain.Attr) (api.Variable, error) {
	v := api.Variable{Values: values, Dimensions: dims}
	if len(attrs) == 0 {
		return v, nil
	}
	m, err := ncutil.OrderedMap(attrs)
	if err != nil {
		return api.Variable{}, err
	}
	v.Attributes = m
	return v, nil
}

func optional(v *float64) float32 {
	if v == nil {
		return domain.FillValue
	}
	return float32(*v)
}

var errNoDir = errors.New("output directory does not exist")

// CheckDir verifies the output directory exists and is a directory.
func CheckDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &domain.WriteError{Path: dir, Err: errNoDir}
		}
		return &domain.WriteError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &domain.WriteError{Path: dir, Err: fmt.Errorf("%s is not a directory", dir)}
	}
	return nil
}
