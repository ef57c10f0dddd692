package domain

import "time"

// ArtifactEvent announces a written merge artifact to downstream consumers.
type ArtifactEvent struct {
	ID          string         `json:"id"`
	Artifact    string         `json:"artifact"` // e.g. "IDA_2021_all_data"
	Storm       string         `json:"storm"`
	StormID     string         `json:"storm_id"`
	Year        int            `json:"year"`
	Path        string         `json:"path"`
	TrackPoints int            `json:"track_points"`
	Indices     []int          `json:"indices,omitempty"`
	Filled      map[string]int `json:"filled_slots"`
	Sources     map[string]int `json:"source_counts"`
	WrittenAt   time.Time      `json:"written_at"`
}

// NewArtifactEvent summarizes ds written at path.
func NewArtifactEvent(id string, ds *OutputDataset, path string) ArtifactEvent {
	ev := ArtifactEvent{
		ID:          id,
		Artifact:    ds.Name,
		Storm:       ds.Track.Name,
		StormID:     ds.Track.StormID,
		Year:        ds.Year,
		Path:        path,
		TrackPoints: ds.Track.Len(),
		Indices:     ds.Track.Indices(),
		Filled:      map[string]int{},
		Sources:     map[string]int{},
		WrittenAt:   Clock().Now().UTC(),
	}
	for _, c := range ds.Collections {
		ev.Filled[c.Type.String()] = c.FilledCount()
		seen := map[string]bool{}
		for _, s := range c.Sources() {
			seen[s] = true
		}
		ev.Sources[c.Type.String()] = len(seen)
	}
	return ev
}
