package archive

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrStrictAbort = errors.New("strict mode: batch aborted")
)

// MalformedRecordError means a row could not be turned into any candidate entity.
type MalformedRecordError struct {
	File   string
	Line   int
	Fields []string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	loc := fmt.Sprintf("line %d", e.Line)
	if e.File != "" {
		loc = e.File + ":" + loc
	}
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: malformed record: %s", loc, e.Reason)
	}
	return fmt.Sprintf("%s: malformed record (%s): %s", loc, strings.Join(e.Fields, ", "), e.Reason)
}

// UnknownReferenceError is returned when a fixed-enumeration code has no match.
type UnknownReferenceError struct {
	Kind  string
	Value string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}

// AmbiguousMatchError is non-fatal: several sites scored equally and ChosenID
// was taken as the lowest identifier.
type AmbiguousMatchError struct {
	Name         string
	CandidateIDs []int64
	ChosenID     int64
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous site match for %q: candidates %v, chose %d", e.Name, e.CandidateIDs, e.ChosenID)
}

// SpatialAssignmentWarning records a bioregion lookup that did not return
// exactly one polygon. Matches holds the codes found, if any.
type SpatialAssignmentWarning struct {
	SiteName  string
	Latitude  float64
	Longitude float64
	Matches   []string
}

func (w *SpatialAssignmentWarning) Error() string {
	if len(w.Matches) == 0 {
		return fmt.Sprintf("site %q at (%.5f, %.5f): no containing bioregion", w.SiteName, w.Latitude, w.Longitude)
	}
	return fmt.Sprintf("site %q at (%.5f, %.5f): %d overlapping bioregions %v, chose %s",
		w.SiteName, w.Latitude, w.Longitude, len(w.Matches), w.Matches, w.Matches[0])
}
