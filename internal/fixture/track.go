package fixture

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// TrackRow is one best-track fix as written to the IBTrACS CSV.
type TrackRow struct {
	SID       string
	Season    int
	Basin     string
	Name      string
	Time      time.Time
	Lat       float64
	Lon       float64
	Wind      *float64
	Pressure  *float64
	Dist2Land float64 // km
	SSHS      int     // Saffir-Simpson category, 0 for tropical storms
}

var trackHeader = []string{"SID", "SEASON", "NUMBER", "BASIN", "SUBBASIN", "NAME", "ISO_TIME", "NATURE", "LAT", "LON", "WMO_WIND", "WMO_PRES", "DIST2LAND", "USA_SSHS", "USA_R34_NE"}
var trackUnits = []string{" ", "Year", " ", " ", " ", " ", " ", " ", "degrees_north", "degrees_east", "kts", "mb", "km", "1", "nmile"}

// Track generates n six-hourly fixes moving north-west from (lat, lon).
// Every fix carries WMO intensity.
func Track(sid, name, basin string, start time.Time, n int, lat, lon float64) []TrackRow {
	rows := make([]TrackRow, n)
	for i := range rows {
		wind := 35 + 5*float64(i%20)
		pres := 1005 - 2*float64(i%20)
		rows[i] = TrackRow{
			SID:       sid,
			Season:    start.Year(),
			Basin:     basin,
			Name:      name,
			Time:      start.Add(time.Duration(i) * 6 * time.Hour),
			Lat:       round(lat+0.3*float64(i), 1),
			Lon:       wrapLon(round(lon-0.4*float64(i), 1)),
			Wind:      &wind,
			Pressure:  &pres,
			Dist2Land: math.Max(0, 400-8*float64(i)),
			SSHS:      sshs(wind),
		}
	}
	return rows
}

// WriteTrackCSV writes rows as an IBTrACS list file, header and units row first.
func WriteTrackCSV(path string, rows []TrackRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create track csv: %w", err)
	}
	if err := EncodeTrackCSV(f, rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// EncodeTrackCSV writes rows in the IBTrACS list layout to w.
func EncodeTrackCSV(w io.Writer, rows []TrackRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(trackHeader); err != nil {
		return err
	}
	if err := cw.Write(trackUnits); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.SID,
			strconv.Itoa(r.Season),
			"1",
			r.Basin,
			"MM",
			r.Name,
			r.Time.UTC().Format(domain.ISOTimeLayout),
			"TS",
			strconv.FormatFloat(r.Lat, 'f', -1, 64),
			strconv.FormatFloat(r.Lon, 'f', -1, 64),
			optional(r.Wind),
			optional(r.Pressure),
			strconv.FormatFloat(r.Dist2Land, 'f', -1, 64),
			strconv.Itoa(r.SSHS),
			" ",
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// sshs is the Saffir-Simpson category for a wind speed in knots.
func sshs(kts float64) int {
	switch {
	case kts >= 137:
		return 5
	case kts >= 113:
		return 4
	case kts >= 96:
		return 3
	case kts >= 83:
		return 2
	case kts >= 64:
		return 1
	case kts >= 34:
		return 0
	default:
		return -1
	}
}

func optional(v *float64) string {
	if v == nil {
		return " "
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func wrapLon(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}
	for lon >= 180 {
		lon -= 360
	}
	return lon
}
