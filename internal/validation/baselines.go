package validation

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Baselines are the record counts the published dataset is expected to
// reach. A zero value disables that comparison.
type Baselines struct {
	Sites              int64 `yaml:"sites" json:"sites"`
	RadiocarbonAges    int64 `yaml:"radiocarbon_ages" json:"radiocarbon_ages"`
	NonRadiocarbonAges int64 `yaml:"non_radiocarbon_ages" json:"non_radiocarbon_ages"`
	// Bioregions is an absolute floor, not a ratio.
	Bioregions int64 `yaml:"bioregions" json:"bioregions"`
}

// DefaultBaselines are the totals of AustArch v1.
var DefaultBaselines = Baselines{
	Sites:              1748,
	RadiocarbonAges:    5044,
	NonRadiocarbonAges: 478,
	Bioregions:         70,
}

// LoadBaselines reads a YAML file of baselines. Keys left out keep their
// default value; an empty path returns the defaults.
func LoadBaselines(path string) (Baselines, error) {
	b := DefaultBaselines
	if path == "" {
		return b, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Baselines{}, fmt.Errorf("read baselines: %w", err)
	}
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return Baselines{}, fmt.Errorf("parse baselines %s: %w", path, err)
	}
	if b.Sites < 0 || b.RadiocarbonAges < 0 || b.NonRadiocarbonAges < 0 || b.Bioregions < 0 {
		return Baselines{}, fmt.Errorf("parse baselines %s: counts must not be negative", path)
	}
	return b, nil
}
