// Package track loads the best track of one storm-year from archive rows.
package track

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// Archive column names.
const (
	ColSID     = "SID"
	ColBasin   = "BASIN"
	ColName    = "NAME"
	ColISOTime = "ISO_TIME"
	ColLat     = "LAT"
	ColLon     = "LON"
	ColWind    = "WMO_WIND"
	ColPres    = "WMO_PRES"
)

// Row is one archive record keyed by column name.
type Row map[string]string

// RowReader yields the rows of the best-track archive.
type RowReader interface {
	ReadRows() ([]Row, error)
}

// Loader filters archive rows into a Track.
type Loader struct {
	rows    RowReader
	opts    config.MergeOptions
	stormID string
	logger  *slog.Logger
}

// NewLoader creates a Loader over the given rows.
func NewLoader(rows RowReader, opts config.MergeOptions, logger *slog.Logger) *Loader {
	return &Loader{rows: rows, opts: opts, logger: logger}
}

// WithStormID pins the storm identifier when a name is reused within a year.
func (l *Loader) WithStormID(sid string) *Loader {
	out := *l
	out.stormID = sid
	return &out
}

type parsedRow struct {
	point domain.TrackPoint
	line  int
}

// Load returns the time-ordered track of the named storm in the given year.
// Rows outside [year, year+1) by ISO_TIME are ignored.
func (l *Loader) Load(name string, year int) (domain.Track, error) {
	rows, err := l.rows.ReadRows()
	if err != nil {
		return domain.Track{}, fmt.Errorf("read best-track rows: %w", err)
	}

	name = strings.ToUpper(strings.TrimSpace(name))
	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	yearEnd := yearStart.AddDate(1, 0, 0)
	filterWMO := l.opts.FilterMissingWMOFor(year)

	var parsed []parsedRow
	dropped := 0
	for i, row := range rows {
		if strings.TrimSpace(row[ColName]) != name {
			continue
		}
		if l.stormID != "" && strings.TrimSpace(row[ColSID]) != l.stormID {
			continue
		}
		ts, err := time.Parse(domain.ISOTimeLayout, strings.TrimSpace(row[ColISOTime]))
		if err != nil {
			l.logger.Warn("skipping row with bad ISO_TIME", "line", i, "value", row[ColISOTime], "error", err)
			continue
		}
		if ts.Before(yearStart) || !ts.Before(yearEnd) {
			continue
		}

		wind, hasWind := parseOptional(row[ColWind])
		pres, hasPres := parseOptional(row[ColPres])
		if filterWMO && (!hasWind || !hasPres) {
			dropped++
			continue
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(row[ColLat]), 64)
		if err != nil {
			return domain.Track{}, fmt.Errorf("row %d: parse LAT %q: %w", i, row[ColLat], err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[ColLon]), 64)
		if err != nil {
			return domain.Track{}, fmt.Errorf("row %d: parse LON %q: %w", i, row[ColLon], err)
		}

		p := domain.TrackPoint{
			StormID: strings.TrimSpace(row[ColSID]),
			Basin:   strings.TrimSpace(row[ColBasin]),
			Time:    ts,
			Lat:     lat,
			Lon:     normalizeLon(lon),
			Extra:   l.extras(row),
		}
		if hasWind {
			p.Wind = &wind
		}
		if hasPres {
			p.Pressure = &pres
		}
		parsed = append(parsed, parsedRow{point: p, line: i})
	}

	if len(parsed) == 0 {
		return domain.Track{}, &domain.NotFoundError{Name: name, Year: year}
	}
	if ids := stormIDs(parsed); len(ids) > 1 {
		return domain.Track{}, &domain.AmbiguousStormError{Name: name, Year: year, StormIDs: ids}
	}

	slices.SortStableFunc(parsed, func(a, b parsedRow) int {
		return a.point.Time.Compare(b.point.Time)
	})
	points := make([]domain.TrackPoint, 0, len(parsed))
	for _, pr := range parsed {
		if n := len(points); n > 0 && points[n-1].Time.Equal(pr.point.Time) {
			l.logger.Warn("dropping duplicate fix", "line", pr.line, "time", pr.point.Time)
			continue
		}
		pr.point.Index = len(points)
		points = append(points, pr.point)
	}

	if dropped > 0 {
		l.logger.Info("dropped rows with missing WMO intensity", "count", dropped, "year", year)
	}
	return domain.NewTrack(name, year, points)
}

func (l *Loader) extras(row Row) map[string]float64 {
	if len(l.opts.TrackExtraVars) == 0 {
		return nil
	}
	out := make(map[string]float64, len(l.opts.TrackExtraVars))
	for _, col := range l.opts.TrackExtraVars {
		if v, ok := parseOptional(row[col]); ok {
			out[col] = v
		}
	}
	return out
}

// parseOptional parses a numeric field; blank or unparseable values are absent.
func parseOptional(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// normalizeLon maps any longitude into [-180, 180).
func normalizeLon(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func stormIDs(rows []parsedRow) []string {
	var ids []string
	for _, r := range rows {
		if !slices.Contains(ids, r.point.StormID) {
			ids = append(ids, r.point.StormID)
		}
	}
	slices.Sort(ids)
	return ids
}
