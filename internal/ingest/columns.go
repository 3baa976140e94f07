package ingest

import "strings"

// Canonical column names of the input files.
const (
	ColSite             = "SITE"
	ColAltNames         = "ALT_NAMES"
	ColSiteType         = "SITE_TYPE"
	ColState            = "STATE"
	ColIBRARegion       = "IBRA_REGION"
	ColLatitude         = "LATITUDE"
	ColLongitude        = "LONGITUDE"
	ColLabCode          = "LAB_CODE"
	ColMethod           = "METHOD"
	ColTechnique        = "TECHNIQUE"
	ColAge              = "AGE"
	ColError            = "ERROR"
	ColC14Age           = "C14_AGE"
	ColC14Error         = "C14_ERROR"
	ColLumAge           = "LUM_AGE"
	ColLumError         = "LUM_ERROR"
	ColC13Age           = "C13_AGE"
	ColC13Error         = "C13_ERROR"
	ColCalFrom          = "CAL_BP_FROM"
	ColCalTo            = "CAL_BP_TO"
	ColMaterial         = "MATERIAL"
	ColMaterialTopLevel = "MATERIAL_TOP_LEVEL"
	ColDepthFrom        = "DEPTH_FROM_SURFACE_CM"
	ColDepthTo          = "DEPTH_TO_CM"
	ColLayer            = "LAYER"
	ColContext          = "CONTEXT"
	ColSource           = "SOURCE"
	ColAuthor           = "AUTHOR"
	ColYear             = "YEAR"
	ColTitle            = "TITLE"
	ColDateIssues       = "DATE_ISSUES"
	ColAdditionalIssues = "ADDITIONAL_DATA_ISSUES"
	ColNotes            = "NOTES"
	ColQualityRating    = "QUALITY_RATING"
	ColRejected         = "REJECTED"
)

// columnAliases maps header spellings seen in the published files to the
// canonical names.
var columnAliases = map[string]string{
	"SITE_NAME":         ColSite,
	"ALTERNATE_NAMES":   ColAltNames,
	"ALTERNATIVE_NAMES": ColAltNames,
	"LAT":               ColLatitude,
	"LON":               ColLongitude,
	"LONG":              ColLongitude,
	"LABCODE":           ColLabCode,
	"LAB_NO":            ColLabCode,
	"AGE_BP":            ColAge,
	"AGE_ERROR":         ColError,
	"LUM_AGE_KA":        ColLumAge,
	"LUM_ERROR_KA":      ColLumError,
	"DELTA_C13":         ColC13Age,
	"DEPTH":             ColDepthFrom,
	"DEPTH_CM":          ColDepthFrom,
	"IBRA":              ColIBRARegion,
	"CITATION":          ColSource,
	"REFERENCE":         ColSource,
	"CAL_AGE_BP_FROM":   ColCalFrom,
	"CAL_AGE_BP_TO":     ColCalTo,
	"MATERIAL_TOPLEVEL": ColMaterialTopLevel,
	"ADDITIONAL_ISSUES": ColAdditionalIssues,
}

var knownColumns = map[string]bool{
	ColSite: true, ColAltNames: true, ColSiteType: true, ColState: true, ColIBRARegion: true,
	ColLatitude: true, ColLongitude: true, ColLabCode: true, ColMethod: true, ColTechnique: true,
	ColAge: true, ColError: true, ColC14Age: true, ColC14Error: true, ColLumAge: true,
	ColLumError: true, ColC13Age: true, ColC13Error: true, ColCalFrom: true, ColCalTo: true,
	ColMaterial: true, ColMaterialTopLevel: true, ColDepthFrom: true, ColDepthTo: true,
	ColLayer: true, ColContext: true, ColSource: true, ColAuthor: true, ColYear: true,
	ColTitle: true, ColDateIssues: true, ColAdditionalIssues: true, ColNotes: true,
	ColQualityRating: true, ColRejected: true,
}

// canonicalColumn maps a header cell to its canonical name, or "" when the
// column is not part of the documented set.
func canonicalColumn(header string) string {
	h := strings.ToUpper(strings.TrimSpace(header))
	h = strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '-' || r == '.'
	}), "_")
	if knownColumns[h] {
		return h
	}
	return columnAliases[h]
}
