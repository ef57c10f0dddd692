package matcher

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/observability"
)

var t0 = time.Date(2021, 8, 29, 12, 0, 0, 0, time.UTC)

type fakeInventory struct {
	headers []domain.GranuleHeader
	err     error
}

func (f fakeInventory) List(context.Context) ([]domain.GranuleHeader, error) {
	return f.headers, f.err
}

// header builds a zero-length granule whose nominal time is at.
func header(id string, typ domain.GranuleType, at time.Time) domain.GranuleHeader {
	return domain.GranuleHeader{
		SourceID: id, Type: typ, Start: at, End: at,
		LatMin: 20, LatMax: 30, LonMin: -95, LonMax: -85,
		Shape: []int{3, 4},
	}
}

func track(t *testing.T, n int) domain.Track {
	t.Helper()
	points := make([]domain.TrackPoint, n)
	for i := range points {
		points[i] = domain.TrackPoint{
			Index: i, StormID: "2021239N17281", Basin: "NA",
			Time: t0.Add(time.Duration(i) * 6 * time.Hour),
			Lat:  25, Lon: -90,
		}
	}
	tr, err := domain.NewTrack("IDA", 2021, points)
	require.NoError(t, err)
	return tr
}

func newMatcher(headers []domain.GranuleHeader, opts config.MergeOptions) (*Matcher, *observability.Metrics) {
	m := observability.NewMetrics()
	return New(fakeInventory{headers: headers}, opts, slog.Default(), m), m
}

func ids(cands []domain.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Header.SourceID
	}
	return out
}

func TestMatch_ToleranceBoundaryIsInclusive(t *testing.T) {
	headers := []domain.GranuleHeader{
		header("edge_before.nc", domain.Imagery, t0.Add(-12*time.Hour)),
		header("edge_after.nc", domain.Imagery, t0.Add(12*time.Hour)),
		header("too_late.nc", domain.Imagery, t0.Add(12*time.Hour+time.Second)),
		header("snd.nc", domain.Sounding, t0),
	}
	m, _ := newMatcher(headers, config.DefaultMergeOptions())

	set, err := m.Match(context.Background(), track(t, 1), "NA", nil)
	require.NoError(t, err)
	require.Len(t, set.Points, 1)
	assert.Equal(t, []string{"edge_after.nc", "edge_before.nc"}, ids(set.Points[0].Candidates[domain.Imagery]))
	assert.Equal(t, 12*time.Hour, set.Points[0].Candidates[domain.Imagery][0].Delta)
}

func TestMatch_UsesMidpointNominalTime(t *testing.T) {
	h := header("long.nc", domain.Imagery, t0.Add(-13*time.Hour))
	h.End = t0.Add(-11 * time.Hour) // midpoint -12h
	m, _ := newMatcher([]domain.GranuleHeader{h, header("snd.nc", domain.Sounding, t0)}, config.DefaultMergeOptions())

	set, err := m.Match(context.Background(), track(t, 1), "NA", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"long.nc"}, ids(set.Points[0].Candidates[domain.Imagery]))
}

func TestMatch_DatelineRejectedForExcludedBasins(t *testing.T) {
	wrapped := header("wrapped.nc", domain.Imagery, t0)
	wrapped.LonMin, wrapped.LonMax = -179.9, 179.9
	headers := []domain.GranuleHeader{wrapped, header("snd.nc", domain.Sounding, t0)}

	m, metrics := newMatcher(headers, config.DefaultMergeOptions())
	set, err := m.Match(context.Background(), track(t, 1), "NA", nil)
	assert.Empty(t, set.Points[0].Candidates[domain.Imagery])
	var ng *domain.NoGranulesError
	require.ErrorAs(t, err, &ng)
	assert.Equal(t, domain.Imagery, ng.Type)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GranulesRejected.WithLabelValues(observability.ReasonDateline)), 1e-9)

	m, _ = newMatcher(headers, config.DefaultMergeOptions())
	set, err = m.Match(context.Background(), track(t, 1), "WP", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"wrapped.nc"}, ids(set.Points[0].Candidates[domain.Imagery]))
}

func TestWrapsDateline(t *testing.T) {
	h := domain.GranuleHeader{LonMin: -179.5, LonMax: 179.5}
	assert.True(t, WrapsDateline(h, 1))
	h.LonMax = 170
	assert.False(t, WrapsDateline(h, 1))
	h = domain.GranuleHeader{LonMin: -178, LonMax: 179.5}
	assert.False(t, WrapsDateline(h, 1))
}

func TestMatch_SubsetAndMultiPointGranules(t *testing.T) {
	// shared.nc sits between points 0 and 1, within 12h of both.
	headers := []domain.GranuleHeader{
		header("shared.nc", domain.Imagery, t0.Add(3*time.Hour)),
		header("snd_a.nc", domain.Sounding, t0),
		header("snd_b.nc", domain.Sounding, t0.Add(6*time.Hour)),
	}
	m, metrics := newMatcher(headers, config.DefaultMergeOptions())

	set, err := m.Match(context.Background(), track(t, 4), "NA", []int{1, 0})
	require.NoError(t, err)
	require.Len(t, set.Points, 2)
	assert.Equal(t, []int{0, 1}, set.Track.Indices())
	assert.Equal(t, []string{"shared.nc"}, ids(set.Points[0].Candidates[domain.Imagery]))
	assert.Equal(t, []string{"shared.nc"}, ids(set.Points[1].Candidates[domain.Imagery]))
	assert.Equal(t, []string{"snd_a.nc", "snd_b.nc"}, ids(set.Points[1].Candidates[domain.Sounding]))

	// shared.nc serves both points but is one granule.
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GranulesMatched.WithLabelValues("imagery")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.GranulesMatched.WithLabelValues("sounding")), 1e-9)
}

func TestMatch_InvalidIndices(t *testing.T) {
	m, _ := newMatcher(nil, config.DefaultMergeOptions())

	for name, indices := range map[string][]int{
		"out of range": {0, 4},
		"negative":     {-1},
		"repeated":     {1, 1},
		"empty":        {},
	} {
		t.Run(name, func(t *testing.T) {
			set, err := m.Match(context.Background(), track(t, 4), "NA", indices)
			assert.Nil(t, set)
			var ie *domain.InvalidIndexError
			assert.ErrorAs(t, err, &ie)
		})
	}
}

func TestMatch_NoGranulesReportedPerPointAndType(t *testing.T) {
	// Within 12h of point 0 only.
	headers := []domain.GranuleHeader{header("img.nc", domain.Imagery, t0.Add(-10*time.Hour))}
	m, _ := newMatcher(headers, config.DefaultMergeOptions())

	set, err := m.Match(context.Background(), track(t, 3), "NA", nil)
	require.NotNil(t, set)
	require.Len(t, set.Points, 3)

	var got []domain.NoGranulesError
	for _, e := range flatten(err) {
		var ng *domain.NoGranulesError
		require.ErrorAs(t, e, &ng)
		got = append(got, *ng)
	}
	want := []domain.NoGranulesError{
		{Index: 0, Type: domain.Sounding},
		{Index: 1, Type: domain.Imagery},
		{Index: 1, Type: domain.Sounding},
		{Index: 2, Type: domain.Imagery},
		{Index: 2, Type: domain.Sounding},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NoGranulesError mismatch (-want +got):\n%s", diff)
	}
}

func TestMatch_DeterministicUnderInventoryOrder(t *testing.T) {
	var headers []domain.GranuleHeader
	for i, id := range []string{"e.nc", "a.nc", "d.nc", "c.nc", "b.nc"} {
		headers = append(headers, header(id, domain.Imagery, t0.Add(time.Duration(i)*time.Hour)))
		headers = append(headers, header("snd_"+id, domain.Sounding, t0.Add(-time.Duration(i)*time.Hour)))
	}
	m, _ := newMatcher(headers, config.DefaultMergeOptions())
	want, err := m.Match(context.Background(), track(t, 3), "NA", nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 5 {
		shuffled := append([]domain.GranuleHeader(nil), headers...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		m, _ := newMatcher(shuffled, config.DefaultMergeOptions())
		got, err := m.Match(context.Background(), track(t, 3), "NA", nil)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("match depends on inventory order (-want +got):\n%s", diff)
		}
	}
	assert.Equal(t, []string{"a.nc", "b.nc", "c.nc", "d.nc", "e.nc"}, ids(want.Points[0].Candidates[domain.Imagery]))
}

func TestMatch_FootprintRule(t *testing.T) {
	inside := header("inside.nc", domain.Imagery, t0)
	inside.Bounds = "POLYGON((-95 20,-85 20,-85 30,-95 30,-95 20))"
	outside := header("outside.nc", domain.Imagery, t0)
	outside.Bounds = "POLYGON((-60 20,-50 20,-50 30,-60 30,-60 20))"
	boxOnly := header("box.nc", domain.Imagery, t0)
	badWKT := header("bad.nc", domain.Imagery, t0)
	badWKT.Bounds = "POLYGON((nonsense"
	farBox := header("far.nc", domain.Imagery, t0)
	farBox.LonMin, farBox.LonMax = 10, 20
	headers := []domain.GranuleHeader{inside, outside, boxOnly, badWKT, farBox, header("snd.nc", domain.Sounding, t0)}

	opts := config.DefaultMergeOptions()
	opts.RequireFootprint = true
	m, metrics := newMatcher(headers, opts)
	set, err := m.Match(context.Background(), track(t, 1), "NA", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad.nc", "box.nc", "inside.nc"}, ids(set.Points[0].Candidates[domain.Imagery]))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.GranulesRejected.WithLabelValues(observability.ReasonFootprint)), 1e-9)

	// Off by default: only time decides.
	m, _ = newMatcher(headers, config.DefaultMergeOptions())
	set, err = m.Match(context.Background(), track(t, 1), "NA", nil)
	require.NoError(t, err)
	assert.Len(t, set.Points[0].Candidates[domain.Imagery], 5)
}

func TestMatch_InventoryError(t *testing.T) {
	m := New(fakeInventory{err: errors.New("disk gone")}, config.DefaultMergeOptions(), slog.Default(), observability.NewMetrics())
	_, err := m.Match(context.Background(), track(t, 1), "NA", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestMatch_CustomTolerance(t *testing.T) {
	headers := []domain.GranuleHeader{
		header("near.nc", domain.Imagery, t0.Add(2*time.Hour)),
		header("far.nc", domain.Imagery, t0.Add(4*time.Hour)),
		header("snd.nc", domain.Sounding, t0),
	}
	opts := config.DefaultMergeOptions()
	opts.TimeTolerance = 3 * time.Hour
	m, _ := newMatcher(headers, opts)

	set, err := m.Match(context.Background(), track(t, 1), "NA", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"near.nc"}, ids(set.Points[0].Candidates[domain.Imagery]))
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
