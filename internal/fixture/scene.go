package fixture

import (
	"fmt"
	"time"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// Scene controls the overpasses generated along a track.
type Scene struct {
	Satellite string        // e.g. "npp"
	ImgOffset time.Duration // granule centre minus fix time, imagery
	SndOffset time.Duration // granule centre minus fix time, sounding
	Duration  time.Duration // coverage length of every granule
	HalfWidth float64       // degrees either side of the fix

	// Every Nth fix gets no overpass, exercising masked slots. Zero disables.
	SkipEvery int
}

// DefaultScene has imagery one hour after and sounding two hours before
// each fix.
func DefaultScene() Scene {
	return Scene{
		Satellite: "npp",
		ImgOffset: time.Hour,
		SndOffset: -2 * time.Hour,
		Duration:  10 * time.Minute,
		HalfWidth: 4,
	}
}

// WriteScene writes one imagery and one sounding granule per track fix into
// dir and returns the written file names.
func WriteScene(dir string, rows []TrackRow, sc Scene) ([]string, error) {
	var names []string
	for i, r := range rows {
		if sc.SkipEvery > 0 && i%sc.SkipEvery == sc.SkipEvery-1 {
			continue
		}
		for _, typ := range domain.GranuleTypes {
			offset := sc.ImgOffset
			if typ == domain.Sounding {
				offset = sc.SndOffset
			}
			mid := r.Time.Add(offset)
			start := mid.Add(-sc.Duration / 2)
			end := mid.Add(sc.Duration / 2)
			g := Granule{
				Name:   GranuleName(typ, sc.Satellite, start, end),
				Type:   typ,
				Start:  start,
				End:    end,
				LatMin: r.Lat - sc.HalfWidth,
				LatMax: r.Lat + sc.HalfWidth,
				LonMin: r.Lon - sc.HalfWidth,
				LonMax: r.Lon + sc.HalfWidth,
				Value:  float32(i),
			}
			if _, err := WriteGranule(dir, g); err != nil {
				return nil, fmt.Errorf("fix %d %s: %w", i, typ, err)
			}
			names = append(names, g.Name)
		}
	}
	return names, nil
}
