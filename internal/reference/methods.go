package reference

import (
	"regexp"
	"strings"
)

type methodAliases struct {
	code    string
	tokens  []string
	phrases []string
}

// methodFamilies is checked in order: luminescence, the other non-radiocarbon
// methods, then the radiocarbon techniques.
var methodFamilies = []methodAliases{
	{code: "IRSL", tokens: []string{"irsl"}, phrases: []string{"infrared stimulated", "infra red stimulated"}},
	{code: "OSL", tokens: []string{"osl"}, phrases: []string{"optically stimulated"}},
	{code: "TL", tokens: []string{"tl"}, phrases: []string{"thermoluminescence", "thermo luminescence"}},
	// bare "luminescence" is almost always reported OSL in this archive
	{code: "OSL", tokens: []string{"luminescence"}},
	{code: "U-TH", tokens: []string{"u-th", "uth", "u-series", "useries", "uranium"}, phrases: []string{"u th", "uranium series", "uranium thorium"}},
	{code: "ESR", tokens: []string{"esr"}, phrases: []string{"electron spin"}},
	{code: "AAR", tokens: []string{"aar"}, phrases: []string{"amino acid"}},
	{code: "COSMO", tokens: []string{"cosmogenic", "cosmo"}},
	{code: "AMS", tokens: []string{"ams"}, phrases: []string{"accelerator"}},
	{code: "CONV", tokens: []string{"conventional", "conv", "radiometric", "lsc"}, phrases: []string{"gas counting", "liquid scintillation"}},
}

var radiocarbonAliases = methodAliases{
	code:    "C14",
	tokens:  []string{"c14", "14c", "c-14", "radiocarbon", "carbon"},
	phrases: []string{"carbon 14", "radio carbon"},
}

var (
	amsLabPrefixes  = []string{"OZ", "SANU", "ANUA", "CAMS", "AA-", "BETA", "UBA", "UCIAMS", "D-AMS"}
	convLabPrefixes = []string{"I-", "GX-", "GAK-", "SUA-", "ANU-", "NZ-", "GRN-", "W-"}
)

var methodSeparators = regexp.MustCompile(`[^a-z0-9-]+`)

// methodText lower-cases and splits text into tokens, keeping hyphens so
// codes like "u-th" survive.
func methodText(s string) []string {
	return strings.Fields(methodSeparators.ReplaceAllString(strings.ToLower(s), " "))
}

func (a methodAliases) matches(tokens []string) bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
		// "AMS-dated" or "c14-ams" style compounds
		for _, part := range strings.Split(t, "-") {
			set[part] = true
		}
	}
	for _, t := range a.tokens {
		if set[t] {
			return true
		}
	}
	joined := " " + strings.Join(tokens, " ") + " "
	flat := strings.ReplaceAll(joined, "-", " ")
	for _, p := range a.phrases {
		if strings.Contains(joined, " "+p+" ") || strings.Contains(flat, " "+p+" ") {
			return true
		}
	}
	return false
}

// methodFromLabCode refines a radiocarbon date by the laboratory's prefix.
func methodFromLabCode(labCode string) string {
	code := strings.ToUpper(strings.TrimSpace(labCode))
	for _, p := range amsLabPrefixes {
		if strings.HasPrefix(code, p) {
			return "AMS"
		}
	}
	for _, p := range convLabPrefixes {
		if strings.HasPrefix(code, p) {
			return "CONV"
		}
	}
	return "C14"
}

// classifyMethod returns the method code for the combined method and
// technique text. ok is false when there is text but none of it matches.
func classifyMethod(method, technique, labCode string) (code string, ok bool) {
	tokens := methodText(method + " " + technique)
	if len(tokens) == 0 {
		return methodFromLabCode(labCode), true
	}
	for _, fam := range methodFamilies {
		if fam.matches(tokens) {
			return fam.code, true
		}
	}
	if radiocarbonAliases.matches(tokens) {
		return methodFromLabCode(labCode), true
	}
	return "", false
}
