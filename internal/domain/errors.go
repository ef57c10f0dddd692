package domain

import (
	"fmt"
	"strings"
)

// NotFoundError reports that the best-track archive has no rows for a storm.
type NotFoundError struct {
	Name string
	Year int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no best-track rows for storm %s in %d", e.Name, e.Year)
}

// AmbiguousStormError reports several storm identifiers sharing one name in
// the same year. Pin one with an explicit storm identifier.
type AmbiguousStormError struct {
	Name     string
	Year     int
	StormIDs []string
}

func (e *AmbiguousStormError) Error() string {
	return fmt.Sprintf("storm %s in %d matches %d storm ids: %s",
		e.Name, e.Year, len(e.StormIDs), strings.Join(e.StormIDs, ", "))
}

// InvalidIndexError reports a caller-supplied track-point index that is out
// of range or repeated.
type InvalidIndexError struct {
	Index  int
	Len    int
	Reason string
}

func (e *InvalidIndexError) Error() string {
	return fmt.Sprintf("invalid track index %d (track has %d points): %s", e.Index, e.Len, e.Reason)
}

// NoGranulesError reports a track point with no matching granule of one type.
// It is recoverable: the slot is masked unless the caller requires completeness.
type NoGranulesError struct {
	Index int
	Type  GranuleType
}

func (e *NoGranulesError) Error() string {
	return fmt.Sprintf("no %s granules for track index %d", e.Type, e.Index)
}

// ShapeMismatchError reports a granule whose swath grid differs from the
// reference shape of its type.
type ShapeMismatchError struct {
	SourceID string
	Type     GranuleType
	Want     []int
	Got      []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s granule %s: swath shape %v, want %v", e.Type, e.SourceID, e.Got, e.Want)
}

// GranuleReadError reports a granule that could not be opened or decoded.
type GranuleReadError struct {
	SourceID string
	Err      error
}

func (e *GranuleReadError) Error() string {
	return fmt.Sprintf("read granule %s: %v", e.SourceID, e.Err)
}

func (e *GranuleReadError) Unwrap() error { return e.Err }

// WriteError reports a failure to persist the output artifact.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
