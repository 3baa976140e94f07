package archive

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Schema is the Postgres schema every archive table lives in.
const Schema = "austarch"

// SRID is GDA94, the datum the source coordinates are recorded in.
const SRID = 4283

type Bioregion struct {
	ID    int64  `gorm:"primaryKey" json:"id"`
	Code  string `gorm:"uniqueIndex;not null" json:"code"`
	Name  string `json:"name"`
	State string `json:"state,omitempty"`
}

func (Bioregion) TableName() string { return Schema + ".bioregion" }

type MethodCategory string

const (
	CategoryRadiocarbon  MethodCategory = "radiocarbon"
	CategoryLuminescence MethodCategory = "luminescence"
	CategoryOther        MethodCategory = "other"
)

type DatingMethod struct {
	ID       int64          `gorm:"primaryKey" json:"id"`
	Code     string         `gorm:"uniqueIndex;not null" json:"code"`
	Name     string         `json:"name"`
	Category MethodCategory `gorm:"not null" json:"category"`
}

func (DatingMethod) TableName() string { return Schema + ".dating_method" }

type SampleMaterial struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Code string `gorm:"uniqueIndex;not null" json:"code"`
	Name string `json:"name"`
}

func (SampleMaterial) TableName() string { return Schema + ".sample_material" }

// DataSource is a publication or dataset a date was reported in. Rows are
// keyed by the citation fingerprint and are only ever appended.
type DataSource struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Fingerprint string    `gorm:"uniqueIndex;not null" json:"fingerprint"`
	Citation    string    `json:"citation"`
	Author      string    `json:"author,omitempty"`
	Year        *int      `json:"year,omitempty"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (DataSource) TableName() string { return Schema + ".data_source" }

type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

type ImportBatch struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	SourceURL   string      `json:"source_url"`
	Status      BatchStatus `gorm:"not null" json:"status"`
	RecordCount int         `json:"record_count"`
	Notes       string      `json:"notes,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func (ImportBatch) TableName() string { return Schema + ".import_batch" }

type Site struct {
	ID             int64          `gorm:"primaryKey" json:"id"`
	SiteName       string         `gorm:"not null" json:"site_name"`
	NormalizedName string         `gorm:"not null;index" json:"normalized_name"`
	AlternateNames pq.StringArray `gorm:"type:text[]" json:"alternate_names,omitempty"`
	Latitude       *float64       `json:"latitude,omitempty"`
	Longitude      *float64       `json:"longitude,omitempty"`
	State          string         `json:"state,omitempty"`
	SiteType       string         `json:"site_type,omitempty"`
	Region         string         `json:"region,omitempty"`
	BioregionID    *int64         `json:"bioregion_id,omitempty"`
	ImportBatchID  *uuid.UUID     `gorm:"type:uuid" json:"import_batch_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`

	// HasGeometry mirrors the generated has_geometry column; geometry itself
	// is only written through SetSiteGeometry.
	HasGeometry bool `gorm:"->" json:"has_geometry"`
}

func (Site) TableName() string { return Schema + ".site" }

// HasCoordinates reports whether both latitude and longitude are recorded.
func (s *Site) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

type Sample struct {
	ID                  int64      `gorm:"primaryKey" json:"id"`
	SiteID              int64      `gorm:"not null;index" json:"site_id"`
	MaterialID          *int64     `json:"material_id,omitempty"`
	MaterialDescription string     `json:"material_description,omitempty"`
	DepthTopCM          *float64   `gorm:"column:depth_cm_top" json:"depth_cm_top,omitempty"`
	DepthBottomCM       *float64   `gorm:"column:depth_cm_bottom" json:"depth_cm_bottom,omitempty"`
	Layer               string     `json:"layer,omitempty"`
	Context             string     `json:"context,omitempty"`
	ImportBatchID       *uuid.UUID `gorm:"type:uuid" json:"import_batch_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func (Sample) TableName() string { return Schema + ".sample" }

type AgeDetermination struct {
	ID              int64          `gorm:"primaryKey" json:"id"`
	SampleID        int64          `gorm:"not null;index" json:"sample_id"`
	LabCode         string         `gorm:"index" json:"lab_code"`
	MethodID        int64          `gorm:"not null" json:"method_id"`
	C14Age          *float64       `gorm:"column:c14_age" json:"c14_age,omitempty"`
	C14Error        *float64       `gorm:"column:c14_error" json:"c14_error,omitempty"`
	DeltaC13        *float64       `gorm:"column:delta_c13" json:"delta_c13,omitempty"`
	LumAgeKa        *float64       `gorm:"column:lum_age_ka" json:"lum_age_ka,omitempty"`
	LumErrorKa      *float64       `gorm:"column:lum_error_ka" json:"lum_error_ka,omitempty"`
	CalAgeBPFrom    *float64       `gorm:"column:cal_age_bp_from" json:"cal_age_bp_from,omitempty"`
	CalAgeBPTo      *float64       `gorm:"column:cal_age_bp_to" json:"cal_age_bp_to,omitempty"`
	AgeBP           *float64       `gorm:"column:age_bp" json:"age_bp,omitempty"`
	AgeError        *float64       `gorm:"column:age_error" json:"age_error,omitempty"`
	QualityRating   *int           `json:"quality_rating,omitempty"`
	IsRejected      bool           `gorm:"not null;default:false" json:"is_rejected"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	QualityIssues   pq.StringArray `gorm:"type:text[]" json:"quality_issues,omitempty"`
	DataSourceID    *int64         `json:"data_source_id,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	ImportBatchID   *uuid.UUID     `gorm:"type:uuid" json:"import_batch_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (AgeDetermination) TableName() string { return Schema + ".age_determination" }

// HasAge reports whether any of the three age fields carries a value.
func (a *AgeDetermination) HasAge() bool {
	return a.C14Age != nil || a.LumAgeKa != nil || a.AgeBP != nil
}

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// ChangeEntry is one row of the append-only change log.
type ChangeEntry struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EntityType    string         `gorm:"not null" json:"entity_type"`
	EntityID      int64          `gorm:"not null" json:"entity_id"`
	ChangeKind    ChangeKind     `gorm:"not null" json:"change_kind"`
	Before        datatypes.JSON `json:"before,omitempty"`
	After         datatypes.JSON `json:"after,omitempty"`
	ImportBatchID *uuid.UUID     `gorm:"type:uuid" json:"import_batch_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (ChangeEntry) TableName() string { return Schema + ".change_log" }
