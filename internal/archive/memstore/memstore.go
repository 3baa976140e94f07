// Package memstore is an in-memory archive datastore. It backs dry-run
// ingestion and the unit tests; bioregions are axis-aligned boxes.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/google/uuid"
)

type bioregionShape struct {
	region archive.Bioregion
	box    archive.Bounds
}

type state struct {
	nextID     int64
	bioregions []bioregionShape
	methods    []archive.DatingMethod
	materials  []archive.SampleMaterial
	sources    []archive.DataSource
	batches    []archive.ImportBatch
	sites      []archive.Site
	samples    []archive.Sample
	ages       []archive.AgeDetermination
	changes    []archive.ChangeEntry
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// journal undoes a failed transaction. Transactions only append to the
// tables they insert into, so those roll back by truncation; sites that
// existed before the transaction keep their original value on first write.
type journal struct {
	nextID  int64
	sites   int
	samples int
	ages    int
	changes int
	touched map[int]archive.Site
}

func (s *state) begin() *journal {
	return &journal{
		nextID:  s.nextID,
		sites:   len(s.sites),
		samples: len(s.samples),
		ages:    len(s.ages),
		changes: len(s.changes),
		touched: map[int]archive.Site{},
	}
}

func (j *journal) undo(s *state) {
	s.nextID = j.nextID
	s.sites = s.sites[:j.sites]
	s.samples = s.samples[:j.samples]
	s.ages = s.ages[:j.ages]
	s.changes = s.changes[:j.changes]
	for i, site := range j.touched {
		s.sites[i] = site
	}
}

func copySite(s archive.Site) archive.Site {
	s.AlternateNames = append([]string(nil), s.AlternateNames...)
	return s
}

// Store holds all state behind one mutex. RunInTx keeps the mutex for the
// whole callback and undoes its writes when the callback fails, so
// transactions are fully serialized.
type Store struct {
	mu     sync.Mutex
	st     *state
	Bounds archive.Bounds
}

func New() *Store {
	return &Store{st: &state{}, Bounds: archive.AustralianBounds}
}

// SeedReference installs dating methods and sample materials, assigning ids.
func (s *Store) SeedReference(methods []archive.DatingMethod, materials []archive.SampleMaterial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range methods {
		m.ID = s.st.id()
		s.st.methods = append(s.st.methods, m)
	}
	for _, m := range materials {
		m.ID = s.st.id()
		s.st.materials = append(s.st.materials, m)
	}
}

// AddBioregion registers a rectangular bioregion.
func (s *Store) AddBioregion(code, name, regionState string, box archive.Bounds) archive.Bioregion {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := archive.Bioregion{ID: s.st.id(), Code: code, Name: name, State: regionState}
	s.st.bioregions = append(s.st.bioregions, bioregionShape{region: b, box: box})
	return b
}

func (s *Store) tx() *tx { return &tx{st: s.st} }

func (s *Store) RunInTx(ctx context.Context, fn func(tx archive.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.st.begin()
	if err := fn(&tx{st: s.st, j: j}); err != nil {
		j.undo(s.st)
		return err
	}
	return nil
}

func (s *Store) LockKey(ctx context.Context, key string) error { return nil }

func (s *Store) SitesByNormalizedName(ctx context.Context, name string) ([]archive.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().SitesByNormalizedName(ctx, name)
}

func (s *Store) SimilarSites(ctx context.Context, name string, threshold float64) ([]archive.SiteMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().SimilarSites(ctx, name, threshold)
}

func (s *Store) CreateSite(ctx context.Context, site *archive.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateSite(ctx, site)
}

func (s *Store) UpdateSite(ctx context.Context, site *archive.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().UpdateSite(ctx, site)
}

func (s *Store) SetSiteGeometry(ctx context.Context, site *archive.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().SetSiteGeometry(ctx, site)
}

func (s *Store) ContainingBioregions(ctx context.Context, lat, lon float64) ([]archive.Bioregion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ContainingBioregions(ctx, lat, lon)
}

func (s *Store) LabCodeExists(ctx context.Context, labCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().LabCodeExists(ctx, labCode)
}

func (s *Store) CreateSample(ctx context.Context, sample *archive.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateSample(ctx, sample)
}

func (s *Store) CreateAgeDetermination(ctx context.Context, a *archive.AgeDetermination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateAgeDetermination(ctx, a)
}

func (s *Store) AppendChange(ctx context.Context, e *archive.ChangeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().AppendChange(ctx, e)
}

func (s *Store) DatingMethods(ctx context.Context) ([]archive.DatingMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.DatingMethod(nil), s.st.methods...), nil
}

func (s *Store) SampleMaterials(ctx context.Context) ([]archive.SampleMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.SampleMaterial(nil), s.st.materials...), nil
}

func (s *Store) UpsertDataSource(ctx context.Context, ds *archive.DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.sources {
		if existing.Fingerprint == ds.Fingerprint {
			*ds = existing
			return nil
		}
	}
	ds.ID = s.st.id()
	ds.CreatedAt = time.Now().UTC()
	s.st.sources = append(s.st.sources, *ds)
	return nil
}

// DataSources returns every stored data source.
func (s *Store) DataSources() []archive.DataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.DataSource(nil), s.st.sources...)
}

func (s *Store) CreateBatch(ctx context.Context, b *archive.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = archive.BatchRunning
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now().UTC()
	}
	s.st.batches = append(s.st.batches, *b)
	return nil
}

func (s *Store) FinishBatch(ctx context.Context, id uuid.UUID, status archive.BatchStatus, recordCount int, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.batches {
		if s.st.batches[i].ID == id {
			now := time.Now().UTC()
			s.st.batches[i].Status = status
			s.st.batches[i].RecordCount = recordCount
			s.st.batches[i].Notes = notes
			s.st.batches[i].CompletedAt = &now
			return nil
		}
	}
	return fmt.Errorf("finish import batch %s: %w", id, archive.ErrNotFound)
}

func (s *Store) ListBatches(ctx context.Context, limit int) ([]archive.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]archive.ImportBatch(nil), s.st.batches...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*archive.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.st.batches {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, archive.ErrNotFound
}

// Sites returns a copy of every stored site ordered by id.
func (s *Store) Sites() []archive.Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Site, len(s.st.sites))
	for i, site := range s.st.sites {
		out[i] = copySite(site)
	}
	return out
}

func (s *Store) Samples() []archive.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.Sample(nil), s.st.samples...)
}

func (s *Store) Ages() []archive.AgeDetermination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.AgeDetermination(nil), s.st.ages...)
}

func (s *Store) Changes() []archive.ChangeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.ChangeEntry(nil), s.st.changes...)
}

var (
	_ archive.Store       = (*Store)(nil)
	_ archive.Inspector   = (*Store)(nil)
	_ archive.BatchReader = (*Store)(nil)
	_ archive.Maintainer  = (*Store)(nil)
)
