package sites_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/archive/memstore"
	"github.com/austarch/austarch-db/internal/sites"
)

func ptr(v float64) *float64 { return &v }

func resolve(t *testing.T, store *memstore.Store, g *sites.Geocoder, c sites.Candidate) *sites.Resolution {
	t.Helper()
	var res *sites.Resolution
	err := store.RunInTx(context.Background(), func(tx archive.Tx) error {
		var err error
		res, err = g.Resolve(context.Background(), tx, c, nil)
		return err
	})
	if err != nil {
		t.Fatalf("Resolve(%q): %v", c.Name, err)
	}
	return res
}

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Lake Mungo", "lake mungo"},
		{"  lake   MUNGO ", "lake mungo"},
		{"Puritjarra Rock-Shelter", "puritjarra rock shelter"},
		{"Ngarrabullgan (Cave)", "ngarrabullgan cave"},
		{"Kaŋa-rrbá", "kaŋa rrba"},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := sites.NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDistanceKm(t *testing.T) {
	// one degree of latitude is roughly 111 km
	d := sites.DistanceKm(-33.0, 143.0, -34.0, 143.0)
	if math.Abs(d-111.2) > 0.5 {
		t.Errorf("DistanceKm = %.2f, want ~111.2", d)
	}
	if d := sites.DistanceKm(-33.7, 143.1, -33.7, 143.1); d != 0 {
		t.Errorf("DistanceKm of identical points = %f", d)
	}
}

func TestResolve_SpellingVariantNearbyIsOneSite(t *testing.T) {
	store := memstore.New()
	g := sites.NewGeocoder(sites.DefaultOptions(), nil)

	first := resolve(t, store, g, sites.Candidate{Name: "Lake Mungo", Latitude: ptr(-33.72), Longitude: ptr(143.10), State: "NSW"})
	if !first.Created {
		t.Fatal("expected first record to create a site")
	}
	second := resolve(t, store, g, sites.Candidate{Name: "lake mungo ", Latitude: ptr(-33.725), Longitude: ptr(143.105)})
	if second.Created {
		t.Fatal("expected second record to match the existing site")
	}
	if second.Site.ID != first.Site.ID {
		t.Errorf("expected site %d, got %d", first.Site.ID, second.Site.ID)
	}
	if n := len(store.Sites()); n != 1 {
		t.Fatalf("expected 1 site, got %d", n)
	}
	if got := store.Sites()[0].AlternateNames; len(got) != 0 {
		t.Errorf("case-only variant should not become an alternate name, got %v", got)
	}
}

func TestResolve_SameNameFarApartIsTwoSites(t *testing.T) {
	store := memstore.New()
	g := sites.NewGeocoder(sites.DefaultOptions(), nil)

	a := resolve(t, store, g, sites.Candidate{Name: "Lake Mungo", Latitude: ptr(-33.72), Longitude: ptr(143.10)})
	b := resolve(t, store, g, sites.Candidate{Name: "Lake Mungo", Latitude: ptr(-34.17), Longitude: ptr(143.10)})
	if !b.Created || a.Site.ID == b.Site.ID {
		t.Fatal("expected a second site for a record 50 km away")
	}
	if n := len(store.Sites()); n != 2 {
		t.Fatalf("expected 2 sites, got %d", n)
	}
}

func TestResolve_FuzzyMatchAddsAlternateName(t *testing.T) {
	store := memstore.New()
	opts := sites.DefaultOptions()
	opts.FuzzyThreshold = 0.7
	g := sites.NewGeocoder(opts, nil)

	resolve(t, store, g, sites.Candidate{Name: "Lake Mungo", Latitude: ptr(-33.72), Longitude: ptr(143.10)})
	res := resolve(t, store, g, sites.Candidate{Name: "Lake Mungoo", Latitude: ptr(-33.72), Longitude: ptr(143.10), SiteType: "lunette"})
	if res.Created {
		t.Fatal("expected fuzzy match")
	}
	if !res.Changed || res.Before == nil {
		t.Fatal("expected the matched site to be reported as changed")
	}
	if res.Similarity >= 1 || res.Similarity < 0.7 {
		t.Errorf("unexpected similarity %f", res.Similarity)
	}
	site := store.Sites()[0]
	if len(site.AlternateNames) != 1 || site.AlternateNames[0] != "Lake Mungoo" {
		t.Errorf("alternate names = %v", site.AlternateNames)
	}
	if site.SiteType != "lunette" {
		t.Errorf("expected site type back-filled, got %q", site.SiteType)
	}
	if len(res.Before.AlternateNames) != 0 {
		t.Errorf("before snapshot was mutated: %v", res.Before.AlternateNames)
	}
}

func TestResolve_BackfillsCoordinates(t *testing.T) {
	store := memstore.New()
	store.AddBioregion("MDD", "Murray Darling Depression", "NSW", archive.Bounds{MinLat: -36, MaxLat: -32, MinLon: 140, MaxLon: 146})
	g := sites.NewGeocoder(sites.DefaultOptions(), nil)

	first := resolve(t, store, g, sites.Candidate{Name: "Lake Mungo"})
	if first.Site.HasGeometry {
		t.Fatal("site without coordinates must not have geometry")
	}
	second := resolve(t, store, g, sites.Candidate{Name: "Lake Mungo", Latitude: ptr(-33.72), Longitude: ptr(143.10)})
	if second.Created {
		t.Fatal("expected the unlocated site to be matched")
	}
	site := store.Sites()[0]
	if !site.HasCoordinates() || !site.HasGeometry {
		t.Fatalf("expected coordinates and geometry back-filled: %+v", site)
	}
	if site.BioregionID == nil {
		t.Fatal("expected bioregion assigned")
	}
}

func TestResolve_OutOfBoundsHasNoGeometry(t *testing.T) {
	store := memstore.New()
	g := sites.NewGeocoder(sites.DefaultOptions(), nil)

	res := resolve(t, store, g, sites.Candidate{Name: "Misplaced", Latitude: ptr(33.72), Longitude: ptr(143.10)})
	if res.Site.HasGeometry {
		t.Error("coordinates outside Australia must not get geometry")
	}
	if !res.Site.HasCoordinates() {
		t.Error("raw coordinates should be kept")
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", res.Warnings)
	}
}

func TestResolve_Bioregions(t *testing.T) {
	store := memstore.New()
	store.AddBioregion("BBB", "Second", "NSW", archive.Bounds{MinLat: -35, MaxLat: -33, MinLon: 142, MaxLon: 144})
	first := store.AddBioregion("AAA", "First", "NSW", archive.Bounds{MinLat: -34, MaxLat: -33, MinLon: 143, MaxLon: 144})
	g := sites.NewGeocoder(sites.DefaultOptions(), nil)

	res := resolve(t, store, g, sites.Candidate{Name: "Overlap", Latitude: ptr(-33.5), Longitude: ptr(143.5)})
	if res.Site.BioregionID == nil || *res.Site.BioregionID != first.ID {
		t.Fatalf("expected bioregion %d, got %v", first.ID, res.Site.BioregionID)
	}
	var warn *archive.SpatialAssignmentWarning
	if len(res.Warnings) != 1 || !errors.As(res.Warnings[0], &warn) || len(warn.Matches) != 2 {
		t.Fatalf("expected overlap warning, got %v", res.Warnings)
	}
	if stored := store.Sites()[0]; stored.BioregionID == nil || *stored.BioregionID != first.ID {
		t.Error("bioregion was not persisted for a new site")
	}

	none := resolve(t, store, g, sites.Candidate{Name: "Nowhere", Latitude: ptr(-20.0), Longitude: ptr(130.0)})
	if none.Site.BioregionID != nil {
		t.Error("expected no bioregion")
	}
	if len(none.Warnings) != 1 || !errors.As(none.Warnings[0], &warn) || len(warn.Matches) != 0 {
		t.Fatalf("expected missing bioregion warning, got %v", none.Warnings)
	}
}

func TestResolve_RepeatRowsAtUnassignedSiteDoNotWarn(t *testing.T) {
	store := memstore.New()
	g := sites.NewGeocoder(sites.DefaultOptions(), nil)

	first := resolve(t, store, g, sites.Candidate{Name: "Nowhere", Latitude: ptr(-20.0), Longitude: ptr(130.0)})
	if len(first.Warnings) != 1 {
		t.Fatalf("expected one warning for the new site, got %v", first.Warnings)
	}
	for i := 0; i < 3; i++ {
		res := resolve(t, store, g, sites.Candidate{Name: "Nowhere", Latitude: ptr(-20.0), Longitude: ptr(130.0)})
		if res.Created || res.Site.ID != first.Site.ID {
			t.Fatalf("row %d did not match the existing site", i)
		}
		if len(res.Warnings) != 0 {
			t.Errorf("row %d: unexpected warnings %v", i, res.Warnings)
		}
	}
}

func TestResolve_EqualCandidatesPickLowestID(t *testing.T) {
	store := memstore.New()
	g := sites.NewGeocoder(sites.DefaultOptions(), nil)

	a := resolve(t, store, g, sites.Candidate{Name: "Cave Bay Cave", Latitude: ptr(-40.0), Longitude: ptr(144.0)})
	resolve(t, store, g, sites.Candidate{Name: "Cave Bay Cave", Latitude: ptr(-36.0), Longitude: ptr(144.0)})

	res := resolve(t, store, g, sites.Candidate{Name: "Cave Bay Cave"})
	if res.Site.ID != a.Site.ID {
		t.Errorf("expected lowest id %d, got %d", a.Site.ID, res.Site.ID)
	}
	var amb *archive.AmbiguousMatchError
	if len(res.Warnings) != 1 || !errors.As(res.Warnings[0], &amb) {
		t.Fatalf("expected ambiguous match warning, got %v", res.Warnings)
	}
	if len(amb.CandidateIDs) != 2 || amb.ChosenID != a.Site.ID {
		t.Errorf("unexpected warning %+v", amb)
	}
}

func TestResolve_RejectsEmptyName(t *testing.T) {
	store := memstore.New()
	g := sites.NewGeocoder(sites.DefaultOptions(), nil)
	err := store.RunInTx(context.Background(), func(tx archive.Tx) error {
		_, err := g.Resolve(context.Background(), tx, sites.Candidate{Name: " -- "}, nil)
		return err
	})
	if err == nil {
		t.Fatal("expected error for a name with no letters")
	}
	if n := len(store.Sites()); n != 0 {
		t.Errorf("expected no sites, got %d", n)
	}
}
