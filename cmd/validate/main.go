// Command validate checks the integrity of a merged storm artifact after the
// fact: every per-point variable shares the track length, slot flags agree
// with the merged grids, and the provenance attributes describe the slots.
//
// Usage:
//
//	go run ./cmd/validate -artifact out/IDA_2021_all_data.nc
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/ncutil"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// grid is one artifact variable, flattened.
type grid struct {
	dims  []string
	shape []int
	data  []float32
}

// artifact is the flattened content of a merged file.
type artifact struct {
	attrs api.AttributeMap
	names []string
	vars  map[string]grid
}

func main() {
	path := flag.String("artifact", "", "path to a NAME_YEAR_all_data.nc artifact")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*path, os.Stdout))
}

func run(path string, w io.Writer) int {
	fmt.Fprintln(w, "=== Merged Artifact Validation ===")

	a, err := load(path)
	if err != nil {
		fmt.Fprintf(w, "FATAL: %v\n", err)
		return 1
	}
	n, ok := a.trackLen()
	if !ok {
		fmt.Fprintln(w, "FATAL: artifact has no track_index variable")
		return 1
	}

	phases := []*phase{
		checkTrackLength(a, n),
		checkSlotMasks(a, n),
		checkProvenance(a, n),
	}

	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-32s %s\n", p.name, status)
	}
	fmt.Fprintf(w, "\nTrack points: %d, variables: %d\n", n, len(a.names))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func load(path string) (*artifact, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	a := &artifact{attrs: nc.Attributes(), names: nc.ListVariables(), vars: make(map[string]grid)}
	for _, name := range a.names {
		v, err := nc.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		shape, data, err := ncutil.Flatten(v.Values)
		if err != nil {
			// Character data carries no track dimension worth checking.
			continue
		}
		a.vars[name] = grid{dims: v.Dimensions, shape: shape, data: data}
	}
	return a, nil
}

func (a *artifact) trackLen() (int, bool) {
	g, ok := a.vars["track_index"]
	if !ok || len(g.shape) != 1 {
		return 0, false
	}
	return g.shape[0], true
}

// ── Phases ──

func checkTrackLength(a *artifact, n int) *phase {
	p := &phase{name: "Track dimension"}
	for _, name := range a.names {
		g, ok := a.vars[name]
		if !ok || len(g.dims) == 0 || g.dims[0] != domain.TrackPointDim {
			continue
		}
		if len(g.shape) == 0 || g.shape[0] != n {
			p.errorf("%s: leading length %v, want %d", name, g.shape, n)
		}
	}
	return p
}

func checkSlotMasks(a *artifact, n int) *phase {
	p := &phase{name: "Slot masks"}
	for _, typ := range domain.GranuleTypes {
		prefix := typ.Prefix()
		flags, ok := a.vars[prefix+"_slot_filled"]
		if !ok {
			p.errorf("%s: missing %s_slot_filled", typ, prefix)
			continue
		}
		if len(flags.data) != n {
			continue // reported by the track dimension phase
		}

		for _, name := range a.names {
			if !strings.HasPrefix(name, prefix+"_") || strings.HasPrefix(name, prefix+"_slot_") {
				continue
			}
			g, ok := a.vars[name]
			if !ok || len(g.shape) == 0 || g.shape[0] != n {
				continue
			}
			stride := len(g.data) / n
			for i := range n {
				cells := g.data[i*stride : (i+1)*stride]
				if flags.data[i] == 0 && !allFill(cells) {
					p.errorf("%s: slot %d is masked but holds data", name, i)
				}
			}
		}

		if lat, ok := a.vars[prefix+"_"+domain.LatitudeVar]; ok && len(lat.data) > 0 {
			stride := len(lat.data) / n
			for i := range n {
				if flags.data[i] == 1 && allFill(lat.data[i*stride:(i+1)*stride]) {
					p.errorf("%s_%s: slot %d is filled but has no geolocation", prefix, domain.LatitudeVar, i)
				}
			}
		}
	}
	return p
}

func checkProvenance(a *artifact, n int) *phase {
	p := &phase{name: "Provenance attributes"}
	for _, key := range []string{"TC_name", "TC_sid", "TC_basin"} {
		if ncutil.AttrString(a.attrs, key) == "" {
			p.errorf("missing global attribute %s", key)
		}
	}
	for _, typ := range domain.GranuleTypes {
		prefix := typ.Prefix()
		key := prefix + "_slot_sources"
		raw := ncutil.AttrString(a.attrs, key)
		if raw == "" {
			p.errorf("missing global attribute %s", key)
			continue
		}
		sources := strings.Split(raw, ",")
		if len(sources) != n {
			p.errorf("%s lists %d slots, want %d", key, len(sources), n)
			continue
		}
		flags, ok := a.vars[prefix+"_slot_filled"]
		if !ok || len(flags.data) != n {
			continue
		}
		for i, src := range sources {
			if (src == "-") != (flags.data[i] == 0) {
				p.errorf("%s: slot %d source %q disagrees with %s_slot_filled=%v", key, i, src, prefix, flags.data[i])
			}
		}
	}
	return p
}

func allFill(cells []float32) bool {
	for _, c := range cells {
		if c != domain.FillValue {
			return false
		}
	}
	return true
}
