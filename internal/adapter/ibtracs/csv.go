// Package ibtracs reads the IBTrACS best-track archive: the CSV list file for
// track rows and the netCDF file for storm-level metadata.
package ibtracs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/storm-mirs-merge/internal/track"
)

// CSVReader reads rows from an IBTrACS "*.list.v04r00.csv" file. The file has
// a header row followed by a units row, which is skipped.
type CSVReader struct {
	path string
}

// NewCSVReader creates a reader for the CSV at path.
func NewCSVReader(path string) *CSVReader {
	return &CSVReader{path: path}
}

// ReadRows implements track.RowReader.
func (r *CSVReader) ReadRows() ([]track.Row, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open best-track csv: %w", err)
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV parses IBTrACS CSV content. Values are kept verbatim apart from
// the column names, which are trimmed.
func ParseCSV(in io.Reader) ([]track.Row, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	// Units row.
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv units row: %w", err)
	}

	var rows []track.Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make(track.Row, len(header))
		for j, h := range header {
			if j < len(rec) {
				row[h] = rec[j]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
