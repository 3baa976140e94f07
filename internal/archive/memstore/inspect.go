package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/google/uuid"
)

func (s *Store) category(methodID int64) archive.MethodCategory {
	for _, m := range s.st.methods {
		if m.ID == methodID {
			return m.Category
		}
	}
	return ""
}

func (s *Store) Count(ctx context.Context, p archive.Probe) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	count := func(ok bool) {
		if ok {
			n++
		}
	}

	switch p {
	case archive.ProbeOrphanedSites:
		withSamples := map[int64]bool{}
		for _, sa := range s.st.samples {
			withSamples[sa.SiteID] = true
		}
		for _, site := range s.st.sites {
			count(!withSamples[site.ID])
		}
	case archive.ProbeOrphanedSamples:
		withAges := map[int64]bool{}
		for _, a := range s.st.ages {
			withAges[a.SampleID] = true
		}
		for _, sa := range s.st.samples {
			count(!withAges[sa.ID])
		}
	case archive.ProbeEmptyBatches:
		withAges := map[uuid.UUID]bool{}
		for _, a := range s.st.ages {
			if a.ImportBatchID != nil {
				withAges[*a.ImportBatchID] = true
			}
		}
		for _, b := range s.st.batches {
			count(b.Status != archive.BatchRunning && !withAges[b.ID])
		}
	case archive.ProbeUndatedAccepted:
		for _, a := range s.st.ages {
			count(!a.IsRejected && !a.HasAge())
		}
	case archive.ProbeInvertedCalRanges:
		for _, a := range s.st.ages {
			count(a.CalAgeBPFrom != nil && a.CalAgeBPTo != nil && *a.CalAgeBPFrom < *a.CalAgeBPTo)
		}
	case archive.ProbeUnreasonableC14:
		for _, a := range s.st.ages {
			count(a.C14Age != nil && *a.C14Age > archive.UnreasonableC14Ceiling)
		}
	case archive.ProbeMissingCoordinates:
		for _, site := range s.st.sites {
			count(!site.HasCoordinates())
		}
	case archive.ProbeInvalidCoordinates:
		for _, site := range s.st.sites {
			count(site.HasCoordinates() && !s.Bounds.Contains(*site.Latitude, *site.Longitude))
		}
	case archive.ProbeUnassignedBioregions:
		for _, site := range s.st.sites {
			count(site.HasGeometry && site.BioregionID == nil)
		}
	default:
		return 0, fmt.Errorf("unknown probe %q", p)
	}
	return n, nil
}

func (s *Store) DuplicateLabCodes(ctx context.Context) ([]archive.LabCodeGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byCode := map[string][]int64{}
	for _, a := range s.st.ages {
		if a.LabCode != "" {
			byCode[a.LabCode] = append(byCode[a.LabCode], a.ID)
		}
	}
	var out []archive.LabCodeGroup
	for code, ids := range byCode {
		if len(ids) > 1 {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			out = append(out, archive.LabCodeGroup{LabCode: code, IDs: ids})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LabCode < out[j].LabCode })
	return out, nil
}

func (s *Store) Totals(ctx context.Context) (archive.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := archive.Totals{
		Sites:   int64(len(s.st.sites)),
		Samples: int64(len(s.st.samples)),
		Ages:    int64(len(s.st.ages)),
		Batches: int64(len(s.st.batches)),
	}
	for _, a := range s.st.ages {
		if s.category(a.MethodID) == archive.CategoryRadiocarbon {
			t.RadiocarbonAges++
		} else {
			t.NonRadiocarbonAges++
		}
		if a.AgeBP != nil {
			t.AgesWithBP++
			if *a.AgeBP < archive.HoloceneBoundaryBP {
				t.HoloceneAges++
			}
		}
	}
	regions := map[int64]bool{}
	for _, site := range s.st.sites {
		if site.BioregionID != nil {
			regions[*site.BioregionID] = true
		}
	}
	t.BioregionsWithSites = int64(len(regions))
	return t, nil
}

func (s *Store) MethodCounts(ctx context.Context) ([]archive.MethodCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := map[int64]string{}
	for _, m := range s.st.methods {
		codes[m.ID] = m.Code
	}
	byCode := map[string]int64{}
	for _, a := range s.st.ages {
		byCode[codes[a.MethodID]]++
	}
	out := make([]archive.MethodCount, 0, len(byCode))
	for code, n := range byCode {
		out = append(out, archive.MethodCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) AssignMissingBioregions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tx()
	var n int64
	for i := range s.st.sites {
		site := &s.st.sites[i]
		if !site.HasGeometry || site.BioregionID != nil {
			continue
		}
		regions, _ := t.ContainingBioregions(ctx, *site.Latitude, *site.Longitude)
		if len(regions) == 0 {
			continue
		}
		id := regions[0].ID
		site.BioregionID = &id
		n++
	}
	return n, nil
}

func (s *Store) RefreshSummary(ctx context.Context) error { return nil }

func (s *Store) RollbackBatch(ctx context.Context, id uuid.UUID) (archive.RollbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch *archive.ImportBatch
	for i := range s.st.batches {
		if s.st.batches[i].ID == id {
			batch = &s.st.batches[i]
		}
	}
	if batch == nil {
		return archive.RollbackResult{}, fmt.Errorf("rollback batch %s: %w", id, archive.ErrNotFound)
	}
	inBatch := func(b *uuid.UUID) bool { return b != nil && *b == id }

	var res archive.RollbackResult
	ages := s.st.ages[:0]
	for _, a := range s.st.ages {
		if inBatch(a.ImportBatchID) {
			res.Ages++
			continue
		}
		ages = append(ages, a)
	}
	s.st.ages = ages

	withAges := map[int64]bool{}
	for _, a := range s.st.ages {
		withAges[a.SampleID] = true
	}
	samples := s.st.samples[:0]
	for _, sa := range s.st.samples {
		if inBatch(sa.ImportBatchID) && !withAges[sa.ID] {
			res.Samples++
			continue
		}
		samples = append(samples, sa)
	}
	s.st.samples = samples

	withSamples := map[int64]bool{}
	for _, sa := range s.st.samples {
		withSamples[sa.SiteID] = true
	}
	sites := s.st.sites[:0]
	for _, site := range s.st.sites {
		if inBatch(site.ImportBatchID) && !withSamples[site.ID] {
			res.Sites++
			continue
		}
		sites = append(sites, site)
	}
	s.st.sites = sites

	if batch.Notes != "" {
		batch.Notes += " "
	}
	batch.Notes += fmt.Sprintf("[rolled back: %d ages, %d samples, %d sites]", res.Ages, res.Samples, res.Sites)
	return res, nil
}

// DeleteSite mirrors the ON DELETE CASCADE from site to sample to age.
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	sites := s.st.sites[:0]
	for _, site := range s.st.sites {
		if site.ID == id {
			found = true
			continue
		}
		sites = append(sites, site)
	}
	if !found {
		return archive.ErrNotFound
	}
	s.st.sites = sites

	dropped := map[int64]bool{}
	samples := s.st.samples[:0]
	for _, sa := range s.st.samples {
		if sa.SiteID == id {
			dropped[sa.ID] = true
			continue
		}
		samples = append(samples, sa)
	}
	s.st.samples = samples

	ages := s.st.ages[:0]
	for _, a := range s.st.ages {
		if !dropped[a.SampleID] {
			ages = append(ages, a)
		}
	}
	s.st.ages = ages
	return nil
}
