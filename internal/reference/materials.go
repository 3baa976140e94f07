package reference

import (
	"sort"
	"strings"
)

var materialAliasTable = map[string]string{
	"charcoal":          "CHARCOAL",
	"wood":              "WOOD",
	"bone":              "BONE",
	"burnt bone":        "BONE_BURNT",
	"burned bone":       "BONE_BURNT",
	"calcined bone":     "BONE_BURNT",
	"shell":             "SHELL_UNSPEC",
	"marine shell":      "SHELL_MARINE",
	"freshwater shell":  "SHELL_FRESHWATER",
	"freshwater mussel": "SHELL_FRESHWATER",
	"land snail":        "SHELL_TERRESTRIAL",
	"seed":              "SEED",
	"seeds":             "SEED",
	"plant":             "SEED",
	"peat":              "PEAT",
	"soil":              "SOIL_ORG",
	"organic":           "SOIL_ORG",
	"sediment":          "SEDIMENT",
	"hair":              "HAIR",
	"eggshell":          "EGGSHELL",
	"emu eggshell":      "EGGSHELL",
	"egg shell":         "EGGSHELL",
	"resin":             "RESIN",
	"fibre":             "FIBER",
	"fiber":             "FIBER",
	"dung":              "DUNG",
	"quartz":            "QUARTZ",
	"feldspar":          "FELDSPAR",
	"sand":              "SAND",
	"calcite":           "CALCITE",
	"tooth":             "TOOTH_ENAMEL",
	"enamel":            "TOOTH_ENAMEL",
	"hearth":            "HEARTH",
	"ceramic":           "CERAMIC",
	"pottery":           "CERAMIC",
}

type materialAlias struct {
	alias string
	code  string
}

// materialAliases is ordered longest alias first so "burnt bone" wins over
// "bone" and "eggshell" over "shell".
var materialAliases = func() []materialAlias {
	out := make([]materialAlias, 0, len(materialAliasTable))
	for a, c := range materialAliasTable {
		out = append(out, materialAlias{alias: a, code: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].alias) != len(out[j].alias) {
			return len(out[i].alias) > len(out[j].alias)
		}
		return out[i].alias < out[j].alias
	})
	return out
}()

func normalizeMaterialText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// classifyMaterial maps a description to a material code. A description
// that is itself a material code is taken as-is.
func classifyMaterial(snap *Snapshot, desc string) (string, bool) {
	text := normalizeMaterialText(desc)
	if text == "" {
		return "", false
	}
	asCode := strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
	if _, ok := snap.Material(asCode); ok {
		return asCode, true
	}
	for _, a := range materialAliases {
		if strings.Contains(text, a.alias) {
			return a.code, true
		}
	}
	return "", false
}
