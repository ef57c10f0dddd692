package merger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2021, 8, 29, 12, 0, 0, 0, time.UTC)

type fakeReader struct {
	mu       sync.Mutex
	granules map[string]*domain.Granule
	errs     map[string]error
	reads    map[string]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		granules: map[string]*domain.Granule{},
		errs:     map[string]error{},
		reads:    map[string]int{},
	}
}

func (f *fakeReader) Read(_ context.Context, id string, _ domain.GranuleType) (*domain.Granule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[id]++
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	g, ok := f.granules[id]
	if !ok {
		return nil, &domain.GranuleReadError{SourceID: id, Err: errors.New("no such file")}
	}
	return g, nil
}

// add registers an imagery granule whose TPW cells all equal v.
func (f *fakeReader) add(id string, shape []int, v float32) domain.GranuleHeader {
	n := shape[0] * shape[1]
	grid := func(x float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = x
		}
		return out
	}
	dims := []string{"Scanline", "Field_of_view"}
	h := domain.GranuleHeader{SourceID: id, Type: domain.Imagery, Shape: shape}
	f.granules[id] = &domain.Granule{
		Header: h,
		Vars: []domain.Variable{
			{Name: "TPW", Dims: dims, Shape: shape, Data: grid(v)},
			{Name: "Longitude", Dims: dims, Shape: shape, Data: grid(-90)},
			{Name: "Latitude", Dims: dims, Shape: shape, Data: grid(25)},
		},
	}
	return h
}

func cand(h domain.GranuleHeader, nominal, point time.Time) domain.Candidate {
	h.Start, h.End = nominal, nominal
	d := nominal.Sub(point)
	if d < 0 {
		d = -d
	}
	return domain.Candidate{Header: h, Delta: d}
}

func pointAt(i int) domain.TrackPoint {
	return domain.TrackPoint{Index: i, StormID: "2021239N17281", Time: t0.Add(time.Duration(i) * 6 * time.Hour)}
}

func newMerger(r GranuleReader) (*Merger, *observability.Metrics) {
	opts := config.DefaultMergeOptions()
	opts.Workers = 2
	m := observability.NewMetrics()
	return New(r, opts, slog.Default(), m), m
}

func TestMerge_PrefersClosestInTime(t *testing.T) {
	r := newFakeReader()
	p := pointAt(0)
	three := r.add("a_three_hours.nc", []int{2, 2}, 3)
	one := r.add("z_one_hour.nc", []int{2, 2}, 1)

	set := &domain.MatchSet{Points: []domain.PointMatch{{
		Point: p,
		Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {
			cand(three, p.Time.Add(3*time.Hour), p.Time),
			cand(one, p.Time.Add(-time.Hour), p.Time),
		}},
	}}}

	m, _ := newMerger(r)
	col, err := m.Merge(context.Background(), set, domain.Imagery)
	require.NoError(t, err)

	require.Len(t, col.Slots, 1)
	assert.True(t, col.Slots[0].Filled)
	assert.Equal(t, "z_one_hour.nc", col.Slots[0].SourceID)
	assert.Equal(t, -time.Hour, col.Slots[0].Delta)
	assert.Equal(t, p.Time.Add(-time.Hour), col.Slots[0].Time)

	tpw := varNamed(t, col, "TPW")
	assert.Equal(t, []int{1, 2, 2}, tpw.Shape)
	assert.Equal(t, []string{domain.TrackPointDim, "Scanline", "Field_of_view"}, tpw.Dims)
	assert.Equal(t, []float32{1, 1, 1, 1}, tpw.Data)
}

func TestMerge_TieBrokenBySourceID(t *testing.T) {
	r := newFakeReader()
	p := pointAt(0)
	b := r.add("b.nc", []int{2, 2}, 2)
	a := r.add("a.nc", []int{2, 2}, 1)

	set := &domain.MatchSet{Points: []domain.PointMatch{{
		Point: p,
		Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {
			cand(b, p.Time.Add(time.Hour), p.Time),
			cand(a, p.Time.Add(-time.Hour), p.Time),
		}},
	}}}

	m, _ := newMerger(r)
	col, err := m.Merge(context.Background(), set, domain.Imagery)
	require.NoError(t, err)
	assert.Equal(t, "a.nc", col.Slots[0].SourceID)
}

func TestMerge_MissingSlotsAreMasked(t *testing.T) {
	r := newFakeReader()
	g := r.add("g.nc", []int{2, 2}, 5)

	set := &domain.MatchSet{Points: []domain.PointMatch{
		{Point: pointAt(0), Candidates: map[domain.GranuleType][]domain.Candidate{}},
		{Point: pointAt(1), Candidates: map[domain.GranuleType][]domain.Candidate{
			domain.Imagery: {cand(g, pointAt(1).Time, pointAt(1).Time)},
		}},
		{Point: pointAt(2), Candidates: nil},
	}}

	m, metrics := newMerger(r)
	col, err := m.Merge(context.Background(), set, domain.Imagery)
	require.NoError(t, err)

	require.Len(t, col.Slots, 3)
	assert.False(t, col.Slots[0].Filled)
	assert.True(t, col.Slots[1].Filled)
	assert.False(t, col.Slots[2].Filled)
	assert.Equal(t, 1, col.FilledCount())

	tpw := varNamed(t, col, "TPW")
	assert.Equal(t, []int{3, 2, 2}, tpw.Shape)
	fill := domain.FillValue
	assert.Equal(t, []float32{fill, fill, fill, fill, 5, 5, 5, 5, fill, fill, fill, fill}, tpw.Data)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SlotsFilled.WithLabelValues("imagery")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SlotsMasked.WithLabelValues("imagery")), 1e-9)
}

func TestMerge_ShapeMismatchFallsBackToNextCandidate(t *testing.T) {
	r := newFakeReader()
	p0, p1 := pointAt(0), pointAt(1)
	odd := r.add("odd.nc", []int{3, 2}, 9)
	ok0 := r.add("ok0.nc", []int{2, 2}, 1)
	ok1 := r.add("ok1.nc", []int{2, 2}, 2)

	set := &domain.MatchSet{Points: []domain.PointMatch{
		{Point: p0, Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {
			cand(odd, p0.Time, p0.Time),
			cand(ok0, p0.Time.Add(2*time.Hour), p0.Time),
		}}},
		{Point: p1, Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {
			cand(ok1, p1.Time, p1.Time),
		}}},
	}}

	m, metrics := newMerger(r)
	col, err := m.Merge(context.Background(), set, domain.Imagery)
	require.NoError(t, err)

	assert.Equal(t, "ok0.nc", col.Slots[0].SourceID, "odd.nc is closer but off the 2x2 modal grid")
	assert.Equal(t, "ok1.nc", col.Slots[1].SourceID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GranulesRejected.WithLabelValues(observability.ReasonShape)), 1e-9)
}

func TestMerge_ReadErrorTreatedAsMissing(t *testing.T) {
	r := newFakeReader()
	p := pointAt(0)
	bad := r.add("bad.nc", []int{2, 2}, 1)
	r.errs["bad.nc"] = &domain.GranuleReadError{SourceID: "bad.nc", Err: errors.New("truncated")}

	set := &domain.MatchSet{Points: []domain.PointMatch{{
		Point: p,
		Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {
			cand(bad, p.Time, p.Time),
		}},
	}}}

	m, metrics := newMerger(r)
	col, err := m.Merge(context.Background(), set, domain.Imagery)
	require.NoError(t, err)
	assert.False(t, col.Slots[0].Filled)
	assert.Empty(t, col.Vars)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GranulesRejected.WithLabelValues(observability.ReasonReadError)), 1e-9)
}

func TestMerge_NoFilledSlotWithConfiguredShapeKeepsMaskedGeolocation(t *testing.T) {
	set := &domain.MatchSet{Points: []domain.PointMatch{
		{Point: pointAt(0), Candidates: map[domain.GranuleType][]domain.Candidate{}},
		{Point: pointAt(1), Candidates: nil},
	}}

	opts := config.DefaultMergeOptions()
	opts.ImageryShape = []int{3, 4}
	m := New(newFakeReader(), opts, slog.Default(), observability.NewMetrics())
	col, err := m.Merge(context.Background(), set, domain.Imagery)
	require.NoError(t, err)
	assert.Equal(t, 0, col.FilledCount())

	require.Len(t, col.Vars, 2)
	for i, name := range []string{domain.LatitudeVar, domain.LongitudeVar} {
		v := col.Vars[i]
		assert.Equal(t, name, v.Name)
		assert.Equal(t, []int{2, 3, 4}, v.Shape)
		assert.Equal(t, []string{domain.TrackPointDim, "Scanline", "Field_of_view"}, v.Dims)
		require.Len(t, v.Data, 24)
		for _, x := range v.Data {
			assert.Equal(t, domain.FillValue, x)
		}
	}

	// Without a configured shape there is no grid to describe.
	m, _ = newMerger(newFakeReader())
	col, err = m.Merge(context.Background(), set, domain.Imagery)
	require.NoError(t, err)
	assert.Empty(t, col.Vars)
}

func TestMerge_UnexpectedReaderErrorAborts(t *testing.T) {
	r := newFakeReader()
	p := pointAt(0)
	h := r.add("a.nc", []int{2, 2}, 1)
	r.errs["a.nc"] = errors.New("permission denied")

	set := &domain.MatchSet{Points: []domain.PointMatch{{
		Point:      p,
		Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {cand(h, p.Time, p.Time)}},
	}}}

	m, _ := newMerger(r)
	_, err := m.Merge(context.Background(), set, domain.Imagery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestMerge_SharedGranuleReadOnce(t *testing.T) {
	r := newFakeReader()
	h := r.add("shared.nc", []int{2, 2}, 4)

	var points []domain.PointMatch
	for i := range 6 {
		p := pointAt(i)
		points = append(points, domain.PointMatch{Point: p, Candidates: map[domain.GranuleType][]domain.Candidate{
			domain.Imagery: {cand(h, t0, p.Time)},
		}})
	}

	m, _ := newMerger(r)
	col, err := m.Merge(context.Background(), &domain.MatchSet{Points: points}, domain.Imagery)
	require.NoError(t, err)
	assert.Equal(t, 6, col.FilledCount())
	assert.Equal(t, 1, r.reads["shared.nc"])
}

func TestMerge_ConfiguredShapeOverridesModal(t *testing.T) {
	r := newFakeReader()
	p := pointAt(0)
	small := r.add("a_small.nc", []int{2, 2}, 1)
	big := r.add("b_big.nc", []int{3, 2}, 2)

	set := &domain.MatchSet{Points: []domain.PointMatch{{
		Point: p,
		Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {
			cand(small, p.Time, p.Time),
			cand(big, p.Time.Add(time.Hour), p.Time),
		}},
	}}}

	opts := config.DefaultMergeOptions()
	opts.ImageryShape = []int{3, 2}
	m := New(r, opts, slog.Default(), observability.NewMetrics())
	col, err := m.Merge(context.Background(), set, domain.Imagery)
	require.NoError(t, err)
	assert.Equal(t, "b_big.nc", col.Slots[0].SourceID)
}

func TestReferenceShape_TieGoesToLexicallyFirst(t *testing.T) {
	r := newFakeReader()
	p := pointAt(0)
	set := &domain.MatchSet{Points: []domain.PointMatch{{
		Point: p,
		Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {
			cand(r.add("b.nc", []int{2, 2}, 1), p.Time, p.Time),
			cand(r.add("a.nc", []int{3, 2}, 1), p.Time, p.Time),
		}},
	}}}

	m, _ := newMerger(r)
	assert.Equal(t, []int{3, 2}, m.referenceShape(set, domain.Imagery))
	assert.Nil(t, m.referenceShape(&domain.MatchSet{}, domain.Imagery))
}

func TestMerge_Canceled(t *testing.T) {
	r := newFakeReader()
	p := pointAt(0)
	h := r.add("a.nc", []int{2, 2}, 1)
	r.errs["a.nc"] = context.Canceled

	set := &domain.MatchSet{Points: []domain.PointMatch{{
		Point:      p,
		Candidates: map[domain.GranuleType][]domain.Candidate{domain.Imagery: {cand(h, p.Time, p.Time)}},
	}}}

	m, _ := newMerger(r)
	_, err := m.Merge(context.Background(), set, domain.Imagery)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStack_VariableOrderAndUnion(t *testing.T) {
	dims := []string{"x"}
	granules := []*domain.Granule{
		{Vars: []domain.Variable{
			{Name: "TPW", Dims: dims, Shape: []int{1}, Data: []float32{1}},
			{Name: "Latitude", Dims: dims, Shape: []int{1}, Data: []float32{10}},
		}},
		nil,
		{Vars: []domain.Variable{
			{Name: "CLW", Dims: dims, Shape: []int{1}, Data: []float32{3}},
			{Name: "Longitude", Dims: dims, Shape: []int{1}, Data: []float32{20}},
		}},
	}

	vars := stack(granules)
	var names []string
	for _, v := range vars {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"Latitude", "Longitude", "CLW", "TPW"}, names)
	assert.Equal(t, []float32{domain.FillValue, domain.FillValue, 3}, vars[2].Data)
	assert.Equal(t, []float32{1, domain.FillValue, domain.FillValue}, vars[3].Data)
}

func varNamed(t *testing.T, col *domain.Collection, name string) domain.MergedVar {
	t.Helper()
	for _, v := range col.Vars {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("variable %s not in collection", name)
	return domain.MergedVar{}
}
