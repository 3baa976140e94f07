// Package quality computes the advisory quality flags stamped on every age
// determination. Flags never reject a record; rejection is carried from the
// source data only.
package quality

import (
	"regexp"
	"strings"

	"github.com/austarch/austarch-db/internal/archive"
)

const (
	MissingCoordinates       = "Missing coordinates"
	OutsideBounds            = "Outside Australian bounds"
	InvalidLabCode           = "Invalid lab code format"
	C14AgeOutOfRange         = "Radiocarbon age outside 0-55000 BP"
	C14ErrorNotPositive      = "Radiocarbon error not positive"
	C14ErrorExceedsAge       = "Radiocarbon error not smaller than age"
	LuminescenceOutOfRange   = "Luminescence age outside 0-500 ka"
	LuminescenceErrorInvalid = "Luminescence error not positive"
	NoAgeValue               = "No age value"
	InvertedCalibratedRange  = "Inverted calibrated range"
)

const (
	MaxC14Age           = 55000
	MaxLuminescenceKa   = 500
	youngAgeToleranceBP = 1000
)

// Input is one age determination with the coordinates of its site.
type Input struct {
	Latitude  *float64
	Longitude *float64
	LabCode   string

	C14Age     *float64
	C14Error   *float64
	LumAgeKa   *float64
	LumErrorKa *float64
	AgeBP      *float64
	CalFrom    *float64
	CalTo      *float64

	// SourceIssues are issue texts reported by the data provider.
	SourceIssues    []string
	SourceRating    *int
	RejectionReason string
	Rejected        bool
}

type Assessment struct {
	Issues          []string
	Rating          *int
	Rejected        bool
	RejectionReason string
}

// HasIssue reports whether label is among the computed issues.
func (a Assessment) HasIssue(label string) bool {
	for _, i := range a.Issues {
		if i == label {
			return true
		}
	}
	return false
}

type Classifier struct {
	bounds archive.Bounds
}

func NewClassifier(bounds archive.Bounds) *Classifier {
	return &Classifier{bounds: bounds}
}

var labCodePattern = regexp.MustCompile(`(?i)^[A-Z]+(-?[A-Z0-9]+)*$`)

// ValidLabCode reports whether code looks like a laboratory identifier:
// letters, optional hyphen-delimited alphanumeric segments, and at least one
// digit.
func ValidLabCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || !labCodePattern.MatchString(code) {
		return false
	}
	return strings.ContainsAny(code, "0123456789")
}

func (c *Classifier) Classify(in Input) Assessment {
	var issues issueList

	switch {
	case in.Latitude == nil || in.Longitude == nil:
		issues.add(MissingCoordinates)
	case !c.bounds.Contains(*in.Latitude, *in.Longitude):
		issues.add(OutsideBounds)
	}

	if !ValidLabCode(in.LabCode) {
		issues.add(InvalidLabCode)
	}

	if in.C14Age != nil {
		age := *in.C14Age
		if age < 0 || age > MaxC14Age {
			issues.add(C14AgeOutOfRange)
		}
		if in.C14Error != nil {
			e := *in.C14Error
			if e <= 0 {
				issues.add(C14ErrorNotPositive)
			} else if e >= age && age >= youngAgeToleranceBP {
				issues.add(C14ErrorExceedsAge)
			}
		}
	}

	if in.LumAgeKa != nil {
		if ka := *in.LumAgeKa; ka < 0 || ka > MaxLuminescenceKa {
			issues.add(LuminescenceOutOfRange)
		}
		if in.LumErrorKa != nil && *in.LumErrorKa <= 0 {
			issues.add(LuminescenceErrorInvalid)
		}
	}

	if in.C14Age == nil && in.LumAgeKa == nil && in.AgeBP == nil {
		issues.add(NoAgeValue)
	}

	if in.CalFrom != nil && in.CalTo != nil && *in.CalFrom < *in.CalTo {
		issues.add(InvertedCalibratedRange)
	}

	for _, s := range in.SourceIssues {
		issues.add(strings.TrimSpace(s))
	}

	out := Assessment{
		Issues:          issues.items,
		Rejected:        in.Rejected,
		RejectionReason: strings.TrimSpace(in.RejectionReason),
	}
	if in.SourceRating != nil && *in.SourceRating >= 1 && *in.SourceRating <= 5 {
		r := *in.SourceRating
		out.Rating = &r
	}
	if !out.Rejected {
		out.RejectionReason = ""
	}
	return out
}

// issueList keeps first-seen order and drops duplicates.
type issueList struct {
	items []string
	seen  map[string]bool
}

func (l *issueList) add(label string) {
	if label == "" {
		return
	}
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	if l.seen[label] {
		return
	}
	l.seen[label] = true
	l.items = append(l.items, label)
}
