package seeds

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/austarch/austarch-db/internal/archive"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Methods is the fixed dating-method enumeration.
func Methods() []archive.DatingMethod {
	return []archive.DatingMethod{
		{Code: "C14", Name: "Radiocarbon (unspecified)", Category: archive.CategoryRadiocarbon},
		{Code: "AMS", Name: "Radiocarbon, accelerator mass spectrometry", Category: archive.CategoryRadiocarbon},
		{Code: "CONV", Name: "Radiocarbon, conventional radiometric", Category: archive.CategoryRadiocarbon},
		{Code: "OSL", Name: "Optically stimulated luminescence", Category: archive.CategoryLuminescence},
		{Code: "TL", Name: "Thermoluminescence", Category: archive.CategoryLuminescence},
		{Code: "IRSL", Name: "Infrared stimulated luminescence", Category: archive.CategoryLuminescence},
		{Code: "U-TH", Name: "Uranium-thorium series", Category: archive.CategoryOther},
		{Code: "ESR", Name: "Electron spin resonance", Category: archive.CategoryOther},
		{Code: "AAR", Name: "Amino acid racemisation", Category: archive.CategoryOther},
		{Code: "COSMO", Name: "Cosmogenic nuclide", Category: archive.CategoryOther},
	}
}

// Materials is the sample-material enumeration, including the OTHER and
// UNKNOWN fallbacks.
func Materials() []archive.SampleMaterial {
	return []archive.SampleMaterial{
		{Code: "CHARCOAL", Name: "Charcoal"},
		{Code: "WOOD", Name: "Wood"},
		{Code: "BONE", Name: "Bone"},
		{Code: "BONE_BURNT", Name: "Burnt or calcined bone"},
		{Code: "SHELL_UNSPEC", Name: "Shell (unspecified)"},
		{Code: "SHELL_MARINE", Name: "Marine shell"},
		{Code: "SHELL_FRESHWATER", Name: "Freshwater shell"},
		{Code: "SHELL_TERRESTRIAL", Name: "Land snail shell"},
		{Code: "SEED", Name: "Seed or plant macrofossil"},
		{Code: "PEAT", Name: "Peat"},
		{Code: "SOIL_ORG", Name: "Organic soil"},
		{Code: "SEDIMENT", Name: "Sediment"},
		{Code: "HAIR", Name: "Hair"},
		{Code: "EGGSHELL", Name: "Eggshell"},
		{Code: "RESIN", Name: "Resin"},
		{Code: "FIBER", Name: "Fibre"},
		{Code: "DUNG", Name: "Dung"},
		{Code: "QUARTZ", Name: "Quartz"},
		{Code: "FELDSPAR", Name: "Feldspar"},
		{Code: "SAND", Name: "Sand"},
		{Code: "CALCITE", Name: "Calcite"},
		{Code: "TOOTH_ENAMEL", Name: "Tooth enamel"},
		{Code: "HEARTH", Name: "Hearth"},
		{Code: "CERAMIC", Name: "Ceramic"},
		{Code: "OTHER", Name: "Other"},
		{Code: "UNKNOWN", Name: "Unknown"},
	}
}

func SeedAll(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	if err := SeedMethods(ctx, db, log); err != nil {
		return err
	}
	return SeedMaterials(ctx, db, log)
}

func SeedMethods(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	methods := Methods()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category"}),
	}).Create(&methods).Error
	if err != nil {
		return fmt.Errorf("seed dating methods: %w", err)
	}
	log.Info("Seeded dating methods", zap.Int("count", len(methods)))
	return nil
}

func SeedMaterials(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	materials := Materials()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&materials).Error
	if err != nil {
		return fmt.Errorf("seed sample materials: %w", err)
	}
	log.Info("Seeded sample materials", zap.Int("count", len(materials)))
	return nil
}

// BioregionRow is one line of a bioregion boundary file.
type BioregionRow struct {
	Code  string
	Name  string
	State string
	WKT   string
}

// ReadBioregions parses a CSV with the header code,name,state,wkt where wkt
// is a POLYGON or MULTIPOLYGON in GDA94.
func ReadBioregions(r io.Reader) ([]BioregionRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("bioregion file has no data rows")
	}

	col := map[string]int{}
	for i, h := range records[0] {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, k := range []string{"code", "name", "wkt"} {
		if _, ok := col[k]; !ok {
			return nil, fmt.Errorf("missing required column: %s", k)
		}
	}

	var out []BioregionRow
	for rowIdx := 1; rowIdx < len(records); rowIdx++ {
		rec := records[rowIdx]
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		row := BioregionRow{Code: get("code"), Name: get("name"), State: get("state"), WKT: get("wkt")}
		if row.Code == "" || row.WKT == "" {
			return nil, fmt.Errorf("row %d: code and wkt are required", rowIdx+1)
		}
		out = append(out, row)
	}
	return out, nil
}

// SeedBioregions inserts bioregions that are not present yet. Existing codes
// are left untouched since bioregions are immutable once loaded.
func SeedBioregions(ctx context.Context, db *gorm.DB, rows []BioregionRow, log *zap.Logger) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s.bioregion (code, name, state, geom)
		VALUES (?, ?, NULLIF(?, ''), ST_Multi(ST_GeomFromText(?, %d)))
		ON CONFLICT (code) DO NOTHING
	`, archive.Schema, archive.SRID)

	var inserted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			res := tx.Exec(query, r.Code, r.Name, r.State, r.WKT)
			if res.Error != nil {
				return fmt.Errorf("insert bioregion %s: %w", r.Code, res.Error)
			}
			inserted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Info("Seeded bioregions", zap.Int64("inserted", inserted), zap.Int("rows", len(rows)))
	return inserted, nil
}
