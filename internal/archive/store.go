package archive

import (
	"context"

	"github.com/google/uuid"
)

// SiteMatch is a site returned by a fuzzy name search with its trigram score.
type SiteMatch struct {
	Site       Site
	Similarity float64
}

// Tx is the set of datastore operations the per-row write path needs. Every
// method runs inside the transaction the Tx was obtained from.
type Tx interface {
	// LockKey takes a transaction-scoped exclusive lock on key.
	LockKey(ctx context.Context, key string) error

	SitesByNormalizedName(ctx context.Context, name string) ([]Site, error)
	// SimilarSites returns sites whose normalized name has a trigram
	// similarity of at least threshold, best score first, ties by id.
	SimilarSites(ctx context.Context, name string, threshold float64) ([]SiteMatch, error)
	CreateSite(ctx context.Context, s *Site) error
	UpdateSite(ctx context.Context, s *Site) error
	// SetSiteGeometry derives the point geometry from lat/lon and sets
	// s.HasGeometry.
	SetSiteGeometry(ctx context.Context, s *Site) error
	// ContainingBioregions returns every bioregion polygon containing the
	// point, ordered by code.
	ContainingBioregions(ctx context.Context, lat, lon float64) ([]Bioregion, error)

	LabCodeExists(ctx context.Context, labCode string) (bool, error)
	CreateSample(ctx context.Context, s *Sample) error
	CreateAgeDetermination(ctx context.Context, a *AgeDetermination) error
	AppendChange(ctx context.Context, e *ChangeEntry) error
}

// Store is the datastore boundary of the ingestion pipeline.
type Store interface {
	Tx
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	DatingMethods(ctx context.Context) ([]DatingMethod, error)
	SampleMaterials(ctx context.Context) ([]SampleMaterial, error)
	// UpsertDataSource inserts ds unless its fingerprint already exists and
	// fills ds.ID with the stored row's identifier either way.
	UpsertDataSource(ctx context.Context, ds *DataSource) error

	CreateBatch(ctx context.Context, b *ImportBatch) error
	FinishBatch(ctx context.Context, id uuid.UUID, status BatchStatus, recordCount int, notes string) error
}

// Probe names one integrity count the validation engine asks a store for.
type Probe string

const (
	ProbeOrphanedSites        Probe = "orphaned_sites"
	ProbeOrphanedSamples      Probe = "orphaned_samples"
	ProbeEmptyBatches         Probe = "empty_batches"
	ProbeUndatedAccepted      Probe = "undated_accepted"
	ProbeInvertedCalRanges    Probe = "inverted_cal_ranges"
	ProbeUnreasonableC14      Probe = "unreasonable_c14"
	ProbeMissingCoordinates   Probe = "missing_coordinates"
	ProbeInvalidCoordinates   Probe = "invalid_coordinates"
	ProbeUnassignedBioregions Probe = "unassigned_bioregions"
)

// UnreasonableC14Ceiling is the alarm threshold for radiocarbon ages, set
// above the 55,000 BP acceptance limit.
const UnreasonableC14Ceiling = 60000

// LabCodeGroup is a lab code shared by more than one age determination.
type LabCodeGroup struct {
	LabCode string  `json:"lab_code"`
	IDs     []int64 `json:"age_determination_ids"`
}

type Totals struct {
	Sites               int64 `json:"sites"`
	Samples             int64 `json:"samples"`
	Ages                int64 `json:"age_determinations"`
	RadiocarbonAges     int64 `json:"radiocarbon_ages"`
	NonRadiocarbonAges  int64 `json:"non_radiocarbon_ages"`
	BioregionsWithSites int64 `json:"bioregions_with_sites"`
	Batches             int64 `json:"import_batches"`
	AgesWithBP          int64 `json:"ages_with_age_bp"`
	HoloceneAges        int64 `json:"holocene_ages"`
}

// HoloceneBoundaryBP is the start of the Holocene in years before present.
const HoloceneBoundaryBP = 11700

type MethodCount struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// Inspector is the read-only query surface used by the validation engine.
type Inspector interface {
	Count(ctx context.Context, p Probe) (int64, error)
	DuplicateLabCodes(ctx context.Context) ([]LabCodeGroup, error)
	Totals(ctx context.Context) (Totals, error)
	MethodCounts(ctx context.Context) ([]MethodCount, error)
}

// BatchReader lists import batches for operators.
type BatchReader interface {
	ListBatches(ctx context.Context, limit int) ([]ImportBatch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error)
}

// RollbackResult counts rows removed by a batch rollback.
type RollbackResult struct {
	Ages    int64 `json:"age_determinations"`
	Samples int64 `json:"samples"`
	Sites   int64 `json:"sites"`
}

// Maintainer holds the correction and post-load operations.
type Maintainer interface {
	AssignMissingBioregions(ctx context.Context) (int64, error)
	RefreshSummary(ctx context.Context) error
	RollbackBatch(ctx context.Context, id uuid.UUID) (RollbackResult, error)
	DeleteSite(ctx context.Context, id int64) error
}
