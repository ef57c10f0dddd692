// Package fixture writes synthetic MiRS granules and IBTrACS track files.
// It backs cmd/genmock and the package tests.
package fixture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// Native dimension names of MiRS granules.
const (
	DimScanline = "Scanline"      // domain.SwathDims[0]
	DimFOV      = "Field_of_view" // domain.SwathDims[1]
	DimLayer    = "P_Layer"
)

// Granule describes one synthetic granule file.
type Granule struct {
	Name  string // file name
	Type  domain.GranuleType
	Start time.Time
	End   time.Time

	// Grid corners; latitude varies along scanlines, longitude across them.
	LatMin, LatMax float64
	LonMin, LonMax float64

	Scans  int // default 3
	FOVs   int // default 4
	Layers int // sounding only, default 2

	// Bounds is written as geospatial_bounds when set.
	Bounds string

	// Value seeds every data cell so merged output can be traced back to
	// its source granule.
	Value float32

	// OmitTitle leaves out the product title, so classification falls back
	// to marker variables.
	OmitTitle bool
}

type namedVar struct {
	name string
	v    api.Variable
}

// GranuleName builds a file name in the MiRS operational convention.
func GranuleName(typ domain.GranuleType, sat string, start, end time.Time) string {
	product := "IMG"
	if typ == domain.Sounding {
		product = "SND"
	}
	return fmt.Sprintf("NPR-MIRS-%s_v11r8_%s_s%s0_e%s0.nc",
		product, sat, start.UTC().Format("20060102150405"), end.UTC().Format("20060102150405"))
}

func (g *Granule) defaults() {
	if g.Scans == 0 {
		g.Scans = 3
	}
	if g.FOVs == 0 {
		g.FOVs = 4
	}
	if g.Layers == 0 {
		g.Layers = 2
	}
}

// WriteGranule writes g into dir and returns the file path.
func WriteGranule(dir string, g Granule) (string, error) {
	g.defaults()
	if g.Name == "" {
		return "", errors.New("fixture granule needs a name")
	}
	path := filepath.Join(dir, g.Name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return "", fmt.Errorf("open fixture writer: %w", err)
	}
	if err := writeGranuleVars(cw, g); err != nil {
		_ = cw.Close()
		return "", err
	}
	if err := cw.Close(); err != nil {
		return "", fmt.Errorf("close fixture %s: %w", g.Name, err)
	}
	return path, nil
}

func writeGranuleVars(cw *cdf.CDFWriter, g Granule) error {
	lat := make([][]float32, g.Scans)
	lon := make([][]float32, g.Scans)
	for i := range g.Scans {
		lat[i] = make([]float32, g.FOVs)
		lon[i] = make([]float32, g.FOVs)
		for j := range g.FOVs {
			lat[i][j] = float32(lerp(g.LatMin, g.LatMax, i, g.Scans))
			lon[i][j] = float32(lerp(g.LonMin, g.LonMax, j, g.FOVs))
		}
	}
	grid := []string{DimScanline, DimFOV}

	fill, err := fillAttrs()
	if err != nil {
		return err
	}
	vars := []namedVar{
		{domain.LatitudeVar, api.Variable{Values: lat, Dimensions: grid, Attributes: fill}},
		{domain.LongitudeVar, api.Variable{Values: lon, Dimensions: grid, Attributes: fill}},
	}

	switch g.Type {
	case domain.Sounding:
		layers := make([]float32, g.Layers)
		for k := range layers {
			layers[k] = float32(1000 - 100*k)
		}
		cube := []string{DimScanline, DimFOV, DimLayer}
		vars = append(vars,
			namedVar{"Player", api.Variable{Values: layers, Dimensions: []string{DimLayer}}},
			namedVar{"PTemp", api.Variable{Values: cube3(g, g.Value), Dimensions: cube, Attributes: fill}},
			namedVar{"PVapor", api.Variable{Values: cube3(g, g.Value+1), Dimensions: cube, Attributes: fill}},
			namedVar{"Qc", api.Variable{Values: []int32{0, 0, 0, 0}, Dimensions: []string{"Qc_dim"}}},
		)
	default:
		vars = append(vars,
			namedVar{"TPW", api.Variable{Values: grid2(g, g.Value), Dimensions: grid, Attributes: fill}},
			namedVar{"CLW", api.Variable{Values: grid2(g, g.Value+1), Dimensions: grid, Attributes: fill}},
			namedVar{"SWP", api.Variable{Values: grid2(g, g.Value+2), Dimensions: grid, Attributes: fill}},
		)
	}

	for _, v := range vars {
		if err := cw.AddVar(v.name, v.v); err != nil {
			return fmt.Errorf("add fixture variable %s: %w", v.name, err)
		}
	}

	keys := []string{"time_coverage_start", "time_coverage_end"}
	vals := map[string]any{
		"time_coverage_start": g.Start.UTC().Format(time.RFC3339),
		"time_coverage_end":   g.End.UTC().Format(time.RFC3339),
	}
	if !g.OmitTitle {
		keys = append(keys, "title")
		vals["title"] = "MIRS " + map[domain.GranuleType]string{domain.Imagery: "IMG", domain.Sounding: "SND"}[g.Type]
	}
	if g.Bounds != "" {
		keys = append(keys, "geospatial_bounds")
		vals["geospatial_bounds"] = g.Bounds
	}
	global, err := util.NewOrderedMap(keys, vals)
	if err != nil {
		return err
	}
	return cw.AddGlobalAttrs(global)
}

func fillAttrs() (*util.OrderedMap, error) {
	return util.NewOrderedMap([]string{"_FillValue"}, map[string]any{"_FillValue": domain.FillValue})
}

func grid2(g Granule, v float32) [][]float32 {
	out := make([][]float32, g.Scans)
	for i := range out {
		out[i] = make([]float32, g.FOVs)
		for j := range out[i] {
			out[i][j] = v
		}
	}
	return out
}

func cube3(g Granule, v float32) [][][]float32 {
	out := make([][][]float32, g.Scans)
	for i := range out {
		out[i] = make([][]float32, g.FOVs)
		for j := range out[i] {
			out[i][j] = make([]float32, g.Layers)
			for k := range out[i][j] {
				out[i][j][k] = v
			}
		}
	}
	return out
}

func lerp(lo, hi float64, i, n int) float64 {
	if n <= 1 {
		return lo
	}
	return lo + (hi-lo)*float64(i)/float64(n-1)
}
