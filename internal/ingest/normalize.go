package ingest

import (
	"fmt"
	"strings"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/reference"
	"github.com/austarch/austarch-db/internal/sites"
)

// Publication years outside this range are treated as typing errors.
const (
	minCitationYear = 1000
	maxCitationYear = 2100
)

// SampleFields is the sample half of a normalized row.
type SampleFields struct {
	Material         string
	MaterialTopLevel string
	DepthTop         *float64
	DepthBottom      *float64
	Layer            string
	Context          string
}

// AgeFields is the dating half of a normalized row. Method-specific fields
// are completed by ApplyMethod once the method is known.
type AgeFields struct {
	LabCode   string
	Method    string
	Technique string

	C14Age     *float64
	C14Error   *float64
	DeltaC13   *float64
	LumAgeKa   *float64
	LumErrorKa *float64
	CalFrom    *float64
	CalTo      *float64
	AgeBP      *float64
	AgeError   *float64

	Rating          *int
	Rejected        bool
	RejectionReason string
	SourceIssues    []string
	Notes           string
}

// Candidate is one row turned into a site, a sample and an age.
type Candidate struct {
	File     string
	Line     int
	Site     sites.Candidate
	Sample   SampleFields
	Age      AgeFields
	Citation reference.Citation
}

// Normalize converts one row. Missing site name or lab code is a
// *archive.MalformedRecordError; anything else that cannot be read becomes a
// warning and a null field.
func Normalize(row Row) (*Candidate, []string, error) {
	c := &Candidate{File: row.File, Line: row.Line}
	p := &numberField{row: row}

	siteName := row.Get(ColSite)
	if IsNull(siteName) || sites.NormalizeName(siteName) == "" {
		siteName = ""
	}
	labCode := CleanLabCode(row.Get(ColLabCode))

	var missing []string
	if siteName == "" {
		missing = append(missing, ColSite)
	}
	if labCode == "" {
		missing = append(missing, ColLabCode)
	}
	if len(missing) > 0 {
		return nil, nil, &archive.MalformedRecordError{
			File:   row.File,
			Line:   row.Line,
			Fields: missing,
			Reason: "required field missing or unusable",
		}
	}

	region := nullable(row.Get(ColIBRARegion))
	state := NormalizeState(row.Get(ColState))
	if state == "" {
		state = StateFromIBRA(region)
	}
	c.Site = sites.Candidate{
		Name:           siteName,
		AlternateNames: SplitNames(row.Get(ColAltNames)),
		Latitude:       p.plain(ColLatitude),
		Longitude:      p.plain(ColLongitude),
		State:          state,
		SiteType:       nullable(row.Get(ColSiteType)),
		Region:         region,
	}
	if (c.Site.Latitude == nil) != (c.Site.Longitude == nil) {
		p.warnings = append(p.warnings, "only one of LATITUDE/LONGITUDE present; coordinates dropped")
		c.Site.Latitude, c.Site.Longitude = nil, nil
	}

	top, bottom, ok := ParseDepth(row.Get(ColDepthFrom))
	if !ok {
		p.warnings = append(p.warnings, fmt.Sprintf("%s: cannot parse %q as a depth", ColDepthFrom, row.Get(ColDepthFrom)))
	}
	if to := p.depth(ColDepthTo); to != nil {
		bottom = to
	}
	c.Sample = SampleFields{
		Material:         nullable(row.Get(ColMaterial)),
		MaterialTopLevel: nullable(row.Get(ColMaterialTopLevel)),
		DepthTop:         top,
		DepthBottom:      bottom,
		Layer:            nullable(row.Get(ColLayer)),
		Context:          nullable(row.Get(ColContext)),
	}

	age := AgeFields{
		LabCode:    labCode,
		Method:     nullable(row.Get(ColMethod)),
		Technique:  nullable(row.Get(ColTechnique)),
		AgeBP:      p.years(ColAge),
		AgeError:   p.years(ColError),
		C14Age:     p.years(ColC14Age),
		C14Error:   p.years(ColC14Error),
		LumAgeKa:   p.kiloyears(ColLumAge),
		LumErrorKa: p.kiloyears(ColLumError),
		DeltaC13:   p.plain(ColC13Age),
		CalFrom:    p.years(ColCalFrom),
		CalTo:      p.years(ColCalTo),
		Rating:     p.integer(ColQualityRating, 1, 5),
		Notes:      nullable(row.Get(ColNotes)),
	}
	if age.AgeBP == nil {
		age.AgeBP, age.AgeError = firstAge(age)
	}

	dateIssues := nullable(row.Get(ColDateIssues))
	additional := nullable(row.Get(ColAdditionalIssues))
	for _, s := range []string{dateIssues, additional} {
		if s != "" {
			age.SourceIssues = append(age.SourceIssues, s)
		}
	}
	switch {
	case ParseFlag(row.Get(ColRejected)):
		age.Rejected = true
		age.RejectionReason = firstNonEmpty(dateIssues, age.Notes, "rejected at source")
	case dateIssues != "":
		age.Rejected = true
		age.RejectionReason = dateIssues
	case strings.Contains(strings.ToLower(age.Notes), "reject"):
		age.Rejected = true
		age.RejectionReason = age.Notes
	}
	c.Age = age

	year := p.integer(ColYear, minCitationYear, maxCitationYear)
	c.Citation = reference.ParseCitation(nullable(row.Get(ColSource))).
		Merge(nullable(row.Get(ColAuthor)), year, nullable(row.Get(ColTitle)))

	return c, p.warnings, nil
}

// firstAge is the best estimate when no explicit AGE is given: the
// radiocarbon age, else the luminescence age in years.
func firstAge(a AgeFields) (age, err *float64) {
	if a.C14Age != nil {
		return a.C14Age, a.C14Error
	}
	if a.LumAgeKa != nil {
		v := *a.LumAgeKa * 1000
		age = &v
		if a.LumErrorKa != nil {
			e := *a.LumErrorKa * 1000
			err = &e
		}
		return age, err
	}
	return nil, nil
}

// ApplyMethod fills the method-specific fields from the generic AGE/ERROR
// pair: radiocarbon rows get c14 values, luminescence rows get ka values.
func (a *AgeFields) ApplyMethod(category archive.MethodCategory) {
	switch category {
	case archive.CategoryRadiocarbon:
		if a.C14Age == nil && a.AgeBP != nil {
			a.C14Age = copyFloat(a.AgeBP)
			a.C14Error = copyFloat(a.AgeError)
		}
	case archive.CategoryLuminescence:
		if a.LumAgeKa == nil && a.AgeBP != nil {
			a.LumAgeKa = scaled(a.AgeBP, 0.001)
			a.LumErrorKa = scaled(a.AgeError, 0.001)
		}
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func scaled(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v * factor
	return &c
}

func nullable(s string) string {
	if IsNull(s) {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
