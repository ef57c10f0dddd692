// Command genmock writes a synthetic storm for local merge runs: an IBTrACS
// style best-track CSV and a directory of MiRS imagery and sounding granules
// that overpass the track.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -name IDA -sid 2021239N17281 \
//	  -start 2021-08-26T12:00:00Z -fixes 44 -lat 16.5 -lon -78.9
//
// then
//
//	go run ./cmd/merge --name IDA --year 2021 \
//	  --ibt-csv data/mock/ibtracs.csv --mirs-dir data/mock/mirs
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/storm-mirs-merge/internal/fixture"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("genmock", flag.ContinueOnError)
	out := fs.String("out", "", "output directory; receives ibtracs.csv and mirs/")
	name := fs.String("name", "IDA", "storm name")
	sid := fs.String("sid", "2021239N17281", "IBTrACS storm identifier")
	basin := fs.String("basin", "NA", "IBTrACS basin code")
	start := fs.String("start", "2021-08-26T12:00:00Z", "time of the first fix (RFC 3339)")
	fixes := fs.Int("fixes", 44, "number of 6-hourly fixes")
	lat := fs.Float64("lat", 16.5, "latitude of the first fix")
	lon := fs.Float64("lon", -78.9, "longitude of the first fix")
	from := fs.Int("granules-from", 0, "first fix index that gets overpasses")
	skip := fs.Int("skip-every", 0, "leave every Nth fix without overpasses; 0 disables")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *out == "" {
		fs.Usage()
		return errors.New("missing required flag: -out")
	}
	t0, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	if *fixes <= 0 || *from < 0 || *from >= *fixes {
		return fmt.Errorf("-granules-from %d must fall inside %d fixes", *from, *fixes)
	}

	rows := fixture.Track(*sid, *name, *basin, t0, *fixes, *lat, *lon)
	csvPath := filepath.Join(*out, "ibtracs.csv")
	mirsDir := filepath.Join(*out, "mirs")
	if err := os.MkdirAll(mirsDir, 0o755); err != nil {
		return fmt.Errorf("create output dirs: %w", err)
	}
	if err := fixture.WriteTrackCSV(csvPath, rows); err != nil {
		return err
	}
	log.Printf("track: %d fixes -> %s", len(rows), csvPath)

	scene := fixture.DefaultScene()
	scene.SkipEvery = *skip
	names, err := fixture.WriteScene(mirsDir, rows[*from:], scene)
	if err != nil {
		return fmt.Errorf("write granules: %w", err)
	}
	log.Printf("granules: %d -> %s", len(names), mirsDir)
	return nil
}
