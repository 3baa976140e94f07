package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var nullTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"-":    true,
	"NULL": true,
	"NONE": true,
	"?":    true,
}

// IsNull reports whether raw is one of the placeholder values the source
// uses for "no data". Empty text is always null, never zero.
func IsNull(raw string) bool {
	return nullTokens[strings.ToUpper(strings.TrimSpace(raw))]
}

// unit suffixes recognised on numeric cells
var numberPattern = regexp.MustCompile(`^([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*(ka|kyr|ky|bp|yr|yrs|cm|m)?\.?$`)

// spacedThousands matches a leading number grouped with single spaces, as
// in "40 000".
var spacedThousands = regexp.MustCompile(`^[-+]?[0-9]{1,3}(?: [0-9]{3})+\b`)

// Measure is a parsed numeric cell. Ka and Years record a thousand-year or
// a plain year suffix; Metres and Cm record a length suffix.
type Measure struct {
	Value  float64
	Ka     bool
	Years  bool
	Metres bool
	Cm     bool
}

// Length reports whether the cell carried a length unit.
func (m Measure) Length() bool { return m.Metres || m.Cm }

// ParseMeasure parses a numeric cell, tolerating thousands separators,
// stray whitespace, a trailing "± error" part and unit suffixes. ok is false
// for null or unparsable text.
func ParseMeasure(raw string) (m Measure, ok bool) {
	if IsNull(raw) {
		return Measure{}, false
	}
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, sep := range []string{"±", "+/-", "+-"} {
		if i := strings.Index(s, sep); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "~")
	s = strings.TrimPrefix(s, "c.")
	s = strings.TrimSpace(s)
	if g := spacedThousands.FindString(s); g != "" {
		s = strings.ReplaceAll(g, " ", "") + s[len(g):]
	}

	match := numberPattern.FindStringSubmatch(s)
	if match == nil {
		return Measure{}, false
	}
	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Measure{}, false
	}
	switch match[2] {
	case "ka", "kyr", "ky":
		return Measure{Value: v, Ka: true}, true
	case "bp", "yr", "yrs":
		return Measure{Value: v, Years: true}, true
	case "m":
		return Measure{Value: v, Metres: true}, true
	case "cm":
		return Measure{Value: v, Cm: true}, true
	}
	return Measure{Value: v}, true
}

// numberField collects the parse warnings of one row.
type numberField struct {
	row      Row
	warnings []string
}

func (p *numberField) raw(col string) (Measure, bool) {
	raw := p.row.Get(col)
	m, ok := ParseMeasure(raw)
	if !ok && !IsNull(raw) {
		p.warnings = append(p.warnings, fmt.Sprintf("%s: cannot parse %q as a number", col, raw))
	}
	return m, ok
}

// unitless is raw for columns where a length unit makes no sense.
func (p *numberField) unitless(col string) (Measure, bool) {
	m, ok := p.raw(col)
	if ok && m.Length() {
		p.warnings = append(p.warnings, fmt.Sprintf("%s: %q has a length unit", col, p.row.Get(col)))
		return Measure{}, false
	}
	return m, ok
}

// plain reads a number with no length unit.
func (p *numberField) plain(col string) *float64 {
	m, ok := p.unitless(col)
	if !ok {
		return nil
	}
	v := m.Value
	return &v
}

// depth reads a value in centimetres, scaling metres by 100.
func (p *numberField) depth(col string) *float64 {
	m, ok := p.raw(col)
	if !ok {
		return nil
	}
	v := m.Value
	if m.Metres {
		v *= 100
	}
	return &v
}

// years reads a value in years, scaling "ka" values by 1000.
func (p *numberField) years(col string) *float64 {
	m, ok := p.unitless(col)
	if !ok {
		return nil
	}
	v := m.Value
	if m.Ka {
		v *= 1000
	}
	return &v
}

// kiloyears reads a value that is in ka unless stated otherwise.
func (p *numberField) kiloyears(col string) *float64 {
	m, ok := p.unitless(col)
	if !ok {
		return nil
	}
	v := m.Value
	if m.Years {
		v /= 1000
	}
	return &v
}

// integer reads a whole number in [lo, hi]. Values outside the range are
// dropped with a warning.
func (p *numberField) integer(col string, lo, hi int) *int {
	m, ok := p.unitless(col)
	if !ok {
		return nil
	}
	if m.Value < float64(lo) || m.Value > float64(hi) {
		p.warnings = append(p.warnings, fmt.Sprintf("%s: %q is outside %d..%d", col, p.row.Get(col), lo, hi))
		return nil
	}
	v := int(m.Value)
	return &v
}

var depthRange = regexp.MustCompile(`^\s*([0-9.,]+)\s*(cm|m)?\s*(?:-|–|to)\s*([0-9.,]+)\s*(cm|m)?\s*$`)

// ParseDepth reads "10-20", "10 - 20 cm", "1.2-1.5 m" or a single value and
// returns centimetres. "surface" and null placeholders give no depth.
func ParseDepth(raw string) (top, bottom *float64, ok bool) {
	if IsNull(raw) || strings.EqualFold(strings.TrimSpace(raw), "surface") {
		return nil, nil, true
	}
	s := strings.ToLower(strings.TrimSpace(raw))
	if m := depthRange.FindStringSubmatch(s); m != nil {
		unitA, unitB := m[2], m[4]
		if unitA == "" {
			unitA = unitB
		}
		a, okA := ParseMeasure(m[1] + unitA)
		b, okB := ParseMeasure(m[3] + unitB)
		if okA {
			top = centimetres(a)
		}
		if okB {
			bottom = centimetres(b)
		}
		return top, bottom, okA
	}
	m, okM := ParseMeasure(s)
	if !okM || m.Ka || m.Years {
		return nil, nil, false
	}
	return centimetres(m), nil, true
}

func centimetres(m Measure) *float64 {
	v := m.Value
	if m.Metres {
		v *= 100
	}
	return &v
}

var whitespace = regexp.MustCompile(`\s+`)

// CleanLabCode upper-cases the code and removes whitespace. Codes shorter
// than three characters are treated as absent.
func CleanLabCode(raw string) string {
	if IsNull(raw) {
		return ""
	}
	code := whitespace.ReplaceAllString(strings.ToUpper(strings.TrimSpace(raw)), "")
	if len(code) < 3 {
		return ""
	}
	return code
}

var stateAliases = map[string]string{
	"nsw":                          "NSW",
	"new south wales":              "NSW",
	"vic":                          "VIC",
	"victoria":                     "VIC",
	"qld":                          "QLD",
	"queensland":                   "QLD",
	"sa":                           "SA",
	"south australia":              "SA",
	"wa":                           "WA",
	"western australia":            "WA",
	"nt":                           "NT",
	"northern territory":           "NT",
	"tas":                          "TAS",
	"tasmania":                     "TAS",
	"act":                          "ACT",
	"australian capital territory": "ACT",
}

// NormalizeState maps a state name or abbreviation to its abbreviation. An
// unrecognised value is kept as its first three letters upper-cased.
func NormalizeState(raw string) string {
	if IsNull(raw) {
		return ""
	}
	s := strings.ToLower(strings.TrimSpace(raw))
	if code, ok := stateAliases[s]; ok {
		return code
	}
	up := strings.ToUpper(strings.TrimSpace(raw))
	if len(up) > 3 {
		up = up[:3]
	}
	return up
}

type stateHint struct {
	hint  string
	state string
}

// ibraStateHints is scanned in order; the first hint contained in the IBRA
// region name decides the state.
var ibraStateHints = []stateHint{
	{"great victoria", "WA"}, {"victorian", "VIC"},
	{"sydney", "NSW"}, {"riverina", "NSW"}, {"darling", "NSW"}, {"murray", "NSW"},
	{"south east corner", "NSW"}, {"nandewar", "NSW"}, {"new england", "NSW"},
	{"brigalow", "QLD"}, {"cape york", "QLD"}, {"wet tropics", "QLD"}, {"einasleigh", "QLD"},
	{"mulga", "QLD"}, {"mitchell", "QLD"}, {"gulf", "QLD"},
	{"gippsland", "VIC"}, {"mallee", "VIC"},
	{"nullarbor", "SA"}, {"flinders", "SA"}, {"eyre", "SA"}, {"gawler", "SA"},
	{"simpson", "SA"}, {"stony plains", "SA"}, {"naracoorte", "SA"},
	{"pilbara", "WA"}, {"kimberley", "WA"}, {"carnarvon", "WA"}, {"murchison", "WA"},
	{"geraldton", "WA"}, {"swan", "WA"}, {"jarrah", "WA"}, {"esperance", "WA"},
	{"coolgardie", "WA"}, {"gibson", "WA"}, {"little sandy", "WA"},
	{"arnhem", "NT"}, {"darwin", "NT"}, {"tanami", "NT"}, {"macdonnell", "NT"},
	{"finke", "NT"}, {"barkly", "NT"}, {"sturt", "NT"}, {"pine creek", "NT"},
	{"tasmanian", "TAS"}, {"furneaux", "TAS"}, {"king", "TAS"},
	{"australian alps", "ACT"},
}

// StateFromIBRA derives a state from an IBRA region name, or "".
func StateFromIBRA(region string) string {
	r := strings.ToLower(strings.TrimSpace(region))
	if r == "" {
		return ""
	}
	for _, h := range ibraStateHints {
		if strings.Contains(r, h.hint) {
			return h.state
		}
	}
	return ""
}

// ParseFlag reads yes/no style cells.
func ParseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "y", "yes", "true", "t", "x", "rejected", "reject":
		return true
	}
	return false
}

// SplitNames splits a list of alternate names on ';' or '|'.
func SplitNames(raw string) []string {
	if IsNull(raw) {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
