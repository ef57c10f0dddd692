package ibtracs

import (
	"fmt"
	"math"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/ncutil"
)

// ibtracsFill is the archive's _FillValue for lat/lon when the attribute is missing.
const ibtracsFill = -9999

// MetadataReader looks up storm-level metadata in the IBTrACS netCDF file
// ("IBTrACS.ALL.v04r00.nc"), whose variables are dimensioned (storm, date_time).
type MetadataReader struct {
	path string
}

// NewMetadataReader creates a reader for the netCDF file at path.
func NewMetadataReader(path string) *MetadataReader {
	return &MetadataReader{path: path}
}

// StormMetadata returns the metadata of the storm with the given SID and season.
func (r *MetadataReader) StormMetadata(sid string, season int) (domain.StormMetadata, error) {
	nc, err := netcdf.Open(r.path)
	if err != nil {
		return domain.StormMetadata{}, fmt.Errorf("open best-track netcdf: %w", err)
	}
	defer nc.Close()

	sids, err := stringVar(nc, "sid")
	if err != nil {
		return domain.StormMetadata{}, err
	}
	idx := -1
	for i, s := range sids {
		if strings.TrimSpace(s) == sid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.StormMetadata{}, &domain.NotFoundError{Name: sid, Year: season}
	}

	names, err := stringVar(nc, "name")
	if err != nil {
		return domain.StormMetadata{}, err
	}
	meta := domain.StormMetadata{StormID: sid, Season: season}
	if idx < len(names) {
		meta.Name = strings.TrimSpace(names[idx])
	}

	basins, err := stormSliceStrings(nc, "basin", idx)
	if err != nil {
		return domain.StormMetadata{}, err
	}
	meta.Basin = firstNonEmpty(basins)

	times, err := stormSliceStrings(nc, "iso_time", idx)
	if err != nil {
		return domain.StormMetadata{}, err
	}
	meta.TimeStart = firstNonEmpty(times)

	var ok bool
	if meta.LatMin, meta.LatMax, ok = stormSliceRange(nc, "lat", idx); !ok {
		return domain.StormMetadata{}, fmt.Errorf("storm %s: no valid latitudes", sid)
	}
	if meta.LonMin, meta.LonMax, ok = stormSliceRange(nc, "lon", idx); !ok {
		return domain.StormMetadata{}, fmt.Errorf("storm %s: no valid longitudes", sid)
	}
	return meta, nil
}

func stringVar(nc api.Group, name string) ([]string, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	v, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("variable %s values: %w", name, err)
	}
	return ncutil.Strings(v), nil
}

func stormSliceStrings(nc api.Group, name string, idx int) ([]string, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	v, err := vg.GetSlice(int64(idx), int64(idx+1))
	if err != nil {
		return nil, fmt.Errorf("variable %s slice: %w", name, err)
	}
	return ncutil.Strings(v), nil
}

func stormSliceRange(nc api.Group, name string, idx int) (lo, hi float64, ok bool) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return 0, 0, false
	}
	v, err := vg.GetSlice(int64(idx), int64(idx+1))
	if err != nil {
		return 0, 0, false
	}
	_, data, err := ncutil.Flatten(v)
	if err != nil {
		return 0, 0, false
	}
	fill := float32(ibtracsFill)
	if f, found := ncutil.AttrFloat(vg.Attributes(), "_FillValue"); found {
		fill = float32(f)
	}
	lo, hi, ok = ncutil.MinMax(data, fill)
	return round2(lo), round2(hi), ok
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
