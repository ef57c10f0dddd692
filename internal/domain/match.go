package domain

import (
	"cmp"
	"slices"
	"time"
)

// Candidate is a granule matched to a track point.
type Candidate struct {
	Header GranuleHeader
	Delta  time.Duration // absolute distance from the track point time
}

// PointMatch holds the matched granules of one track point, per type, sorted
// by source identifier.
type PointMatch struct {
	Point      TrackPoint
	Candidates map[GranuleType][]Candidate
}

// MatchSet is the matcher's output: one PointMatch per selected track point,
// in track order.
type MatchSet struct {
	Track  Track
	Points []PointMatch
}

// Sources returns the sorted, de-duplicated source identifiers matched for t.
func (m *MatchSet) Sources(t GranuleType) []string {
	seen := map[string]bool{}
	var out []string
	for _, pm := range m.Points {
		for _, c := range pm.Candidates[t] {
			if !seen[c.Header.SourceID] {
				seen[c.Header.SourceID] = true
				out = append(out, c.Header.SourceID)
			}
		}
	}
	slices.Sort(out)
	return out
}

// ByPreference returns the candidates ordered closest-in-time first, ties
// broken by source identifier.
func ByPreference(cands []Candidate) []Candidate {
	out := slices.Clone(cands)
	slices.SortFunc(out, func(a, b Candidate) int {
		if c := cmp.Compare(a.Delta, b.Delta); c != 0 {
			return c
		}
		return cmp.Compare(a.Header.SourceID, b.Header.SourceID)
	})
	return out
}
