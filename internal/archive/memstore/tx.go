package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/google/uuid"
)

// tx operates on state directly; the caller holds Store.mu. j is nil
// outside RunInTx.
type tx struct {
	st *state
	j  *journal
}

func (t *tx) LockKey(ctx context.Context, key string) error { return nil }

func (t *tx) SitesByNormalizedName(ctx context.Context, name string) ([]archive.Site, error) {
	var out []archive.Site
	for _, s := range t.st.sites {
		if s.NormalizedName == name {
			out = append(out, copySite(s))
		}
	}
	return out, nil
}

func (t *tx) SimilarSites(ctx context.Context, name string, threshold float64) ([]archive.SiteMatch, error) {
	var out []archive.SiteMatch
	for _, s := range t.st.sites {
		score := Similarity(s.NormalizedName, name)
		if score >= threshold {
			out = append(out, archive.SiteMatch{Site: copySite(s), Similarity: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Site.ID < out[j].Site.ID
	})
	return out, nil
}

func (t *tx) siteIndex(id int64) int {
	for i := range t.st.sites {
		if t.st.sites[i].ID == id {
			return i
		}
	}
	return -1
}

// siteForUpdate returns the stored site, journaling its value first.
func (t *tx) siteForUpdate(id int64) *archive.Site {
	i := t.siteIndex(id)
	if i < 0 {
		return nil
	}
	if t.j != nil && i < t.j.sites {
		if _, ok := t.j.touched[i]; !ok {
			t.j.touched[i] = copySite(t.st.sites[i])
		}
	}
	return &t.st.sites[i]
}

func (t *tx) CreateSite(ctx context.Context, s *archive.Site) error {
	if s.SiteName == "" {
		return fmt.Errorf("insert site: site_name is required")
	}
	s.ID = t.st.id()
	s.CreatedAt = time.Now().UTC()
	s.HasGeometry = false
	t.st.sites = append(t.st.sites, copySite(*s))
	return nil
}

func (t *tx) UpdateSite(ctx context.Context, s *archive.Site) error {
	stored := t.siteForUpdate(s.ID)
	if stored == nil {
		return fmt.Errorf("update site %d: %w", s.ID, archive.ErrNotFound)
	}
	hasGeom := stored.HasGeometry
	*stored = copySite(*s)
	stored.HasGeometry = hasGeom
	return nil
}

func (t *tx) SetSiteGeometry(ctx context.Context, s *archive.Site) error {
	if !s.HasCoordinates() {
		return fmt.Errorf("site %d: geometry needs both coordinates", s.ID)
	}
	stored := t.siteForUpdate(s.ID)
	if stored == nil {
		return fmt.Errorf("set geometry for site %d: %w", s.ID, archive.ErrNotFound)
	}
	stored.HasGeometry = true
	s.HasGeometry = true
	return nil
}

func (t *tx) ContainingBioregions(ctx context.Context, lat, lon float64) ([]archive.Bioregion, error) {
	var out []archive.Bioregion
	for _, b := range t.st.bioregions {
		if b.box.Contains(lat, lon) {
			out = append(out, b.region)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) LabCodeExists(ctx context.Context, labCode string) (bool, error) {
	for _, a := range t.st.ages {
		if a.LabCode == labCode {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CreateSample(ctx context.Context, s *archive.Sample) error {
	if t.siteIndex(s.SiteID) < 0 {
		return fmt.Errorf("insert sample: site %d: %w", s.SiteID, archive.ErrNotFound)
	}
	s.ID = t.st.id()
	s.CreatedAt = time.Now().UTC()
	t.st.samples = append(t.st.samples, *s)
	return nil
}

func (t *tx) CreateAgeDetermination(ctx context.Context, a *archive.AgeDetermination) error {
	found := false
	for _, s := range t.st.samples {
		if s.ID == a.SampleID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("insert age determination: sample %d: %w", a.SampleID, archive.ErrNotFound)
	}
	a.ID = t.st.id()
	a.CreatedAt = time.Now().UTC()
	stored := *a
	stored.QualityIssues = append([]string(nil), a.QualityIssues...)
	t.st.ages = append(t.st.ages, stored)
	return nil
}

func (t *tx) AppendChange(ctx context.Context, e *archive.ChangeEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	t.st.changes = append(t.st.changes, *e)
	return nil
}
