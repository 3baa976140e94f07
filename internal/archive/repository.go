package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the Postgres/PostGIS implementation of Store, Inspector,
// BatchReader and Maintainer. Inside RunInTx it is rebound to the open
// transaction.
type Repository struct {
	db     *gorm.DB
	Bounds Bounds
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, Bounds: AustralianBounds}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *Repository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, Bounds: r.Bounds})
	})
}

func (r *Repository) LockKey(ctx context.Context, key string) error {
	if err := r.conn(ctx).Exec(`SELECT pg_advisory_xact_lock(hashtext(?))`, key).Error; err != nil {
		return fmt.Errorf("advisory lock %q: %w", key, err)
	}
	return nil
}

func (r *Repository) SitesByNormalizedName(ctx context.Context, name string) ([]Site, error) {
	var out []Site
	err := r.conn(ctx).Where("normalized_name = ?", name).Order("id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("sites by name %q: %w", name, err)
	}
	return out, nil
}

type siteMatchRow struct {
	Site  `gorm:"embedded"`
	Score float64
}

func (r *Repository) SimilarSites(ctx context.Context, name string, threshold float64) ([]SiteMatch, error) {
	// No "%" pre-filter: it applies pg_trgm.similarity_threshold, which
	// would override a lower threshold.
	query := `
		SELECT s.*, similarity(s.normalized_name, ?) AS score
		FROM ` + Schema + `.site s
		WHERE similarity(s.normalized_name, ?) >= ?
		ORDER BY score DESC, s.id
	`
	var rows []siteMatchRow
	if err := r.conn(ctx).Raw(query, name, name, threshold).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("similar sites %q: %w", name, err)
	}
	out := make([]SiteMatch, 0, len(rows))
	for _, row := range rows {
		out = append(out, SiteMatch{Site: row.Site, Similarity: row.Score})
	}
	return out, nil
}

func (r *Repository) CreateSite(ctx context.Context, s *Site) error {
	if err := r.conn(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("insert site %q: %w", s.SiteName, err)
	}
	return nil
}

func (r *Repository) UpdateSite(ctx context.Context, s *Site) error {
	err := r.conn(ctx).Model(s).
		Select("site_name", "normalized_name", "alternate_names", "latitude", "longitude",
			"state", "site_type", "region", "bioregion_id").
		Updates(s).Error
	if err != nil {
		return fmt.Errorf("update site %d: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) SetSiteGeometry(ctx context.Context, s *Site) error {
	if !s.HasCoordinates() {
		return fmt.Errorf("site %d: geometry needs both coordinates", s.ID)
	}
	query := fmt.Sprintf(`UPDATE %s.site SET geom = ST_SetSRID(ST_MakePoint(?, ?), %d) WHERE id = ?`, Schema, SRID)
	if err := r.conn(ctx).Exec(query, *s.Longitude, *s.Latitude, s.ID).Error; err != nil {
		return fmt.Errorf("set geometry for site %d: %w", s.ID, err)
	}
	s.HasGeometry = true
	return nil
}

func (r *Repository) ContainingBioregions(ctx context.Context, lat, lon float64) ([]Bioregion, error) {
	query := fmt.Sprintf(`
		SELECT id, code, name, COALESCE(state, '') AS state
		FROM %s.bioregion
		WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint(?, ?), %d))
		ORDER BY code
	`, Schema, SRID)

	rows, err := r.conn(ctx).Raw(query, lon, lat).Rows()
	if err != nil {
		return nil, fmt.Errorf("bioregion containment query failed: %w", err)
	}
	defer rows.Close()

	var out []Bioregion
	for rows.Next() {
		var b Bioregion
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.State); err != nil {
			return nil, fmt.Errorf("scan bioregion: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) LabCodeExists(ctx context.Context, labCode string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + Schema + `.age_determination WHERE lab_code = ?)`
	if err := r.conn(ctx).Raw(query, labCode).Scan(&exists).Error; err != nil {
		return false, fmt.Errorf("lab code lookup %q: %w", labCode, err)
	}
	return exists, nil
}

func (r *Repository) CreateSample(ctx context.Context, s *Sample) error {
	if err := r.conn(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("insert sample for site %d: %w", s.SiteID, err)
	}
	return nil
}

func (r *Repository) CreateAgeDetermination(ctx context.Context, a *AgeDetermination) error {
	if err := r.conn(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("insert age determination %q: %w", a.LabCode, err)
	}
	return nil
}

func (r *Repository) AppendChange(ctx context.Context, e *ChangeEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := r.conn(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

func (r *Repository) DatingMethods(ctx context.Context) ([]DatingMethod, error) {
	var out []DatingMethod
	if err := r.conn(ctx).Order("code").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load dating methods: %w", err)
	}
	return out, nil
}

func (r *Repository) SampleMaterials(ctx context.Context) ([]SampleMaterial, error) {
	var out []SampleMaterial
	if err := r.conn(ctx).Order("code").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load sample materials: %w", err)
	}
	return out, nil
}

func (r *Repository) UpsertDataSource(ctx context.Context, ds *DataSource) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).Create(ds).Error; err != nil {
			return fmt.Errorf("insert data source: %w", err)
		}
		var stored DataSource
		if err := tx.Where("fingerprint = ?", ds.Fingerprint).First(&stored).Error; err != nil {
			return fmt.Errorf("load data source %s: %w", ds.Fingerprint, err)
		}
		*ds = stored
		return nil
	})
}

func (r *Repository) CreateBatch(ctx context.Context, b *ImportBatch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BatchRunning
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now().UTC()
	}
	if err := r.conn(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("create import batch: %w", err)
	}
	return nil
}

func (r *Repository) FinishBatch(ctx context.Context, id uuid.UUID, status BatchStatus, recordCount int, notes string) error {
	res := r.conn(ctx).Model(&ImportBatch{}).Where("id = ?", id).Updates(map[string]any{
		"status":       status,
		"record_count": recordCount,
		"notes":        notes,
		"completed_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("finish import batch %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish import batch %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Repository) ListBatches(ctx context.Context, limit int) ([]ImportBatch, error) {
	var out []ImportBatch
	q := r.conn(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list import batches: %w", err)
	}
	return out, nil
}

func (r *Repository) GetBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error) {
	var b ImportBatch
	err := r.conn(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import batch %s: %w", id, err)
	}
	return &b, nil
}

func (r *Repository) probeQuery(p Probe) (string, []any, error) {
	const (
		site   = Schema + ".site"
		sample = Schema + ".sample"
		age    = Schema + ".age_determination"
		batch  = Schema + ".import_batch"
	)
	switch p {
	case ProbeOrphanedSites:
		return `SELECT COUNT(*) FROM ` + site + ` s WHERE NOT EXISTS (SELECT 1 FROM ` + sample + ` sa WHERE sa.site_id = s.id)`, nil, nil
	case ProbeOrphanedSamples:
		return `SELECT COUNT(*) FROM ` + sample + ` sa WHERE NOT EXISTS (SELECT 1 FROM ` + age + ` a WHERE a.sample_id = sa.id)`, nil, nil
	case ProbeEmptyBatches:
		return `SELECT COUNT(*) FROM ` + batch + ` b WHERE b.status <> 'running' AND NOT EXISTS (SELECT 1 FROM ` + age + ` a WHERE a.import_batch_id = b.id)`, nil, nil
	case ProbeUndatedAccepted:
		return `SELECT COUNT(*) FROM ` + age + ` WHERE NOT is_rejected AND c14_age IS NULL AND lum_age_ka IS NULL AND age_bp IS NULL`, nil, nil
	case ProbeInvertedCalRanges:
		return `SELECT COUNT(*) FROM ` + age + ` WHERE cal_age_bp_from IS NOT NULL AND cal_age_bp_to IS NOT NULL AND cal_age_bp_from < cal_age_bp_to`, nil, nil
	case ProbeUnreasonableC14:
		return `SELECT COUNT(*) FROM ` + age + ` WHERE c14_age > ?`, []any{UnreasonableC14Ceiling}, nil
	case ProbeMissingCoordinates:
		return `SELECT COUNT(*) FROM ` + site + ` WHERE latitude IS NULL OR longitude IS NULL`, nil, nil
	case ProbeInvalidCoordinates:
		b := r.Bounds
		return `SELECT COUNT(*) FROM ` + site + ` WHERE latitude IS NOT NULL AND longitude IS NOT NULL
			AND NOT (latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?)`,
			[]any{b.MinLat, b.MaxLat, b.MinLon, b.MaxLon}, nil
	case ProbeUnassignedBioregions:
		return `SELECT COUNT(*) FROM ` + site + ` WHERE geom IS NOT NULL AND bioregion_id IS NULL`, nil, nil
	}
	return "", nil, fmt.Errorf("unknown probe %q", p)
}

func (r *Repository) Count(ctx context.Context, p Probe) (int64, error) {
	query, args, err := r.probeQuery(p)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.conn(ctx).Raw(query, args...).Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("probe %s: %w", p, err)
	}
	return n, nil
}

func (r *Repository) DuplicateLabCodes(ctx context.Context) ([]LabCodeGroup, error) {
	query := `
		SELECT lab_code, array_agg(id ORDER BY id) AS ids
		FROM ` + Schema + `.age_determination
		WHERE lab_code <> ''
		GROUP BY lab_code
		HAVING COUNT(*) > 1
		ORDER BY lab_code
	`
	rows, err := r.conn(ctx).Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("duplicate lab codes: %w", err)
	}
	defer rows.Close()

	var out []LabCodeGroup
	for rows.Next() {
		var code string
		var ids pq.Int64Array
		if err := rows.Scan(&code, &ids); err != nil {
			return nil, fmt.Errorf("scan duplicate lab code: %w", err)
		}
		out = append(out, LabCodeGroup{LabCode: code, IDs: []int64(ids)})
	}
	return out, rows.Err()
}

func (r *Repository) Totals(ctx context.Context) (Totals, error) {
	query := fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM %[1]s.site) AS sites,
			(SELECT COUNT(*) FROM %[1]s.sample) AS samples,
			(SELECT COUNT(*) FROM %[1]s.age_determination) AS ages,
			(SELECT COUNT(*) FROM %[1]s.age_determination a
				JOIN %[1]s.dating_method m ON m.id = a.method_id
				WHERE m.category = 'radiocarbon') AS radiocarbon_ages,
			(SELECT COUNT(*) FROM %[1]s.age_determination a
				JOIN %[1]s.dating_method m ON m.id = a.method_id
				WHERE m.category <> 'radiocarbon') AS non_radiocarbon_ages,
			(SELECT COUNT(DISTINCT bioregion_id) FROM %[1]s.site WHERE bioregion_id IS NOT NULL) AS bioregions_with_sites,
			(SELECT COUNT(*) FROM %[1]s.import_batch) AS batches,
			(SELECT COUNT(*) FROM %[1]s.age_determination WHERE age_bp IS NOT NULL) AS ages_with_bp,
			(SELECT COUNT(*) FROM %[1]s.age_determination WHERE age_bp < %[2]d) AS holocene_ages
	`, Schema, HoloceneBoundaryBP)

	var t Totals
	row := r.conn(ctx).Raw(query).Row()
	err := row.Scan(&t.Sites, &t.Samples, &t.Ages, &t.RadiocarbonAges, &t.NonRadiocarbonAges,
		&t.BioregionsWithSites, &t.Batches, &t.AgesWithBP, &t.HoloceneAges)
	if err != nil {
		return Totals{}, fmt.Errorf("totals: %w", err)
	}
	return t, nil
}

func (r *Repository) MethodCounts(ctx context.Context) ([]MethodCount, error) {
	var out []MethodCount
	query := `
		SELECT m.code AS code, COUNT(*) AS count
		FROM ` + Schema + `.age_determination a
		JOIN ` + Schema + `.dating_method m ON m.id = a.method_id
		GROUP BY m.code
		ORDER BY m.code
	`
	if err := r.conn(ctx).Raw(query).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("method counts: %w", err)
	}
	return out, nil
}

// AssignMissingBioregions back-fills bioregions for sites that have geometry
// but no bioregion, taking the lowest code when polygons overlap.
func (r *Repository) AssignMissingBioregions(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %[1]s.site s
		SET bioregion_id = pick.bioregion_id
		FROM (
			SELECT DISTINCT ON (s2.id) s2.id AS site_id, b.id AS bioregion_id
			FROM %[1]s.site s2
			JOIN %[1]s.bioregion b ON ST_Contains(b.geom, s2.geom)
			WHERE s2.geom IS NOT NULL AND s2.bioregion_id IS NULL
			ORDER BY s2.id, b.code
		) pick
		WHERE s.id = pick.site_id
	`, Schema)
	res := r.conn(ctx).Exec(query)
	if res.Error != nil {
		return 0, fmt.Errorf("assign bioregions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repository) RefreshSummary(ctx context.Context) error {
	if err := r.conn(ctx).Exec(`REFRESH MATERIALIZED VIEW ` + Schema + `.mv_summary_stats`).Error; err != nil {
		return fmt.Errorf("refresh summary view: %w", err)
	}
	return nil
}

// RollbackBatch removes the age determinations of one batch, then the
// batch's samples and sites that are left empty.
func (r *Repository) RollbackBatch(ctx context.Context, id uuid.UUID) (RollbackResult, error) {
	var res RollbackResult
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var b ImportBatch
		if err := tx.First(&b, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		ages := tx.Exec(`DELETE FROM `+Schema+`.age_determination WHERE import_batch_id = ?`, id)
		if ages.Error != nil {
			return fmt.Errorf("delete ages: %w", ages.Error)
		}
		samples := tx.Exec(`DELETE FROM `+Schema+`.sample sa WHERE sa.import_batch_id = ?
			AND NOT EXISTS (SELECT 1 FROM `+Schema+`.age_determination a WHERE a.sample_id = sa.id)`, id)
		if samples.Error != nil {
			return fmt.Errorf("delete samples: %w", samples.Error)
		}
		sites := tx.Exec(`DELETE FROM `+Schema+`.site s WHERE s.import_batch_id = ?
			AND NOT EXISTS (SELECT 1 FROM `+Schema+`.sample sa WHERE sa.site_id = s.id)`, id)
		if sites.Error != nil {
			return fmt.Errorf("delete sites: %w", sites.Error)
		}
		res = RollbackResult{Ages: ages.RowsAffected, Samples: samples.RowsAffected, Sites: sites.RowsAffected}

		notes := b.Notes
		if notes != "" {
			notes += " "
		}
		notes += fmt.Sprintf("[rolled back: %d ages, %d samples, %d sites]", res.Ages, res.Samples, res.Sites)
		return tx.Model(&ImportBatch{}).Where("id = ?", id).Update("notes", notes).Error
	})
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback batch %s: %w", id, err)
	}
	return res, nil
}

// DeleteSite removes a site; samples and ages go with it through the
// foreign-key cascade.
func (r *Repository) DeleteSite(ctx context.Context, id int64) error {
	res := r.conn(ctx).Delete(&Site{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete site %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var (
	_ Store       = (*Repository)(nil)
	_ Inspector   = (*Repository)(nil)
	_ BatchReader = (*Repository)(nil)
	_ Maintainer  = (*Repository)(nil)
)
