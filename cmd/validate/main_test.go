package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/output"
)

var t0 = time.Date(2021, 8, 29, 12, 0, 0, 0, time.UTC)

// writeArtifact writes a two-point artifact whose second imagery slot is
// masked and holds imgSecond.
func writeArtifact(t *testing.T, imgSecond []float32) string {
	t.Helper()
	tr, err := domain.NewTrack("IDA", 2021, []domain.TrackPoint{
		{Index: 42, StormID: "2021239N17281", Basin: "NA", Time: t0, Lat: 28.5, Lon: -89.6},
		{Index: 43, StormID: "2021239N17281", Basin: "NA", Time: t0.Add(6 * time.Hour), Lat: 29.6, Lon: -90.5},
	})
	require.NoError(t, err)

	img := &domain.Collection{
		Type:  domain.Imagery,
		Slots: []domain.Slot{{Filled: true, SourceID: "img_a.nc", Time: t0, Delta: 0}, {}},
		Vars: []domain.MergedVar{{
			Name:  domain.LatitudeVar,
			Dims:  []string{domain.TrackPointDim, "Scanline", "Field_of_view"},
			Shape: []int{2, 1, 2},
			Data:  append([]float32{28, 29}, imgSecond...),
		}},
	}
	snd := &domain.Collection{Type: domain.Sounding, Slots: make([]domain.Slot, 2)}

	meta := domain.MetadataFromTrack(tr)
	ds, err := output.Build(tr, img, snd, meta, "IDA", 2021, config.DefaultMergeOptions())
	require.NoError(t, err)

	path, err := output.NewWriter(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil))).Write(ds)
	require.NoError(t, err)
	return path
}

func TestRun_ValidArtifactPasses(t *testing.T) {
	path := writeArtifact(t, []float32{domain.FillValue, domain.FillValue})

	var out bytes.Buffer
	assert.Equal(t, 0, run(path, &out), out.String())
	assert.Contains(t, out.String(), "All validations passed.")
	assert.Contains(t, out.String(), "Track points: 2")
}

func TestRun_MaskedSlotWithDataFails(t *testing.T) {
	path := writeArtifact(t, []float32{30, 31})

	var out bytes.Buffer
	assert.Equal(t, 1, run(path, &out))
	assert.Contains(t, out.String(), "img_Latitude: slot 1 is masked but holds data")
}

func TestRun_MissingFile(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, run(filepath.Join(t.TempDir(), "nope.nc"), &out))
	assert.Contains(t, out.String(), "FATAL")
}
