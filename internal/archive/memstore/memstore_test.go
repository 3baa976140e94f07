package memstore_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/archive/memstore"
	"github.com/google/uuid"
)

func f(v float64) *float64 { return &v }

func TestRunInTx_RestoresStateOnError(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(tx archive.Tx) error {
		if err := tx.CreateSite(ctx, &archive.Site{SiteName: "Lake Mungo", NormalizedName: "lake mungo"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(store.Sites()); n != 0 {
		t.Errorf("expected no sites after rollback, got %d", n)
	}

	err = store.RunInTx(ctx, func(tx archive.Tx) error {
		return tx.CreateSite(ctx, &archive.Site{SiteName: "Lake Mungo", NormalizedName: "lake mungo"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(store.Sites()); n != 1 {
		t.Errorf("expected 1 site, got %d", n)
	}
}

func TestRunInTx_UndoesUpdatesOnError(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	boom := errors.New("boom")

	site := &archive.Site{SiteName: "Kow Swamp", NormalizedName: "kow swamp", AlternateNames: []string{"Kow"}}
	err := store.RunInTx(ctx, func(tx archive.Tx) error { return tx.CreateSite(ctx, site) })
	if err != nil {
		t.Fatal(err)
	}

	err = store.RunInTx(ctx, func(tx archive.Tx) error {
		edited := *site
		edited.AlternateNames = append([]string{"Kow Swamp 1"}, site.AlternateNames...)
		edited.Latitude, edited.Longitude = f(-35.9), f(144.2)
		if err := tx.UpdateSite(ctx, &edited); err != nil {
			return err
		}
		if err := tx.SetSiteGeometry(ctx, &edited); err != nil {
			return err
		}
		if err := tx.UpdateSite(ctx, &edited); err != nil {
			return err
		}
		sample := &archive.Sample{SiteID: site.ID}
		if err := tx.CreateSample(ctx, sample); err != nil {
			return err
		}
		if err := tx.CreateAgeDetermination(ctx, &archive.AgeDetermination{SampleID: sample.ID, LabCode: "ANU-403"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got := store.Sites()
	if len(got) != 1 {
		t.Fatalf("expected 1 site, got %d", len(got))
	}
	if got[0].Latitude != nil || got[0].HasGeometry || len(got[0].AlternateNames) != 1 {
		t.Errorf("site update survived rollback: %+v", got[0])
	}
	if len(store.Samples()) != 0 || len(store.Ages()) != 0 {
		t.Error("inserts survived rollback")
	}

	next := &archive.Site{SiteName: "Coobool Creek", NormalizedName: "coobool creek"}
	if err := store.RunInTx(ctx, func(tx archive.Tx) error { return tx.CreateSite(ctx, next) }); err != nil {
		t.Fatal(err)
	}
	if next.ID != site.ID+1 {
		t.Errorf("ids consumed by the failed transaction were not reclaimed: %d", next.ID)
	}
}

func TestAssignMissingBioregions(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	riv := store.AddBioregion("RIV", "Riverina", "NSW", archive.Bounds{MinLat: -35, MaxLat: -33, MinLon: 143, MaxLon: 146})
	store.AddBioregion("MDD", "Murray Darling Depression", "NSW", archive.Bounds{MinLat: -35, MaxLat: -32, MinLon: 142, MaxLon: 145})

	inside := &archive.Site{SiteName: "Lake Mungo", NormalizedName: "lake mungo", Latitude: f(-33.7), Longitude: f(143.1)}
	outside := &archive.Site{SiteName: "Devil's Lair", NormalizedName: "devils lair", Latitude: f(-34.1), Longitude: f(115.1)}
	err := store.RunInTx(ctx, func(tx archive.Tx) error {
		for _, s := range []*archive.Site{inside, outside} {
			if err := tx.CreateSite(ctx, s); err != nil {
				return err
			}
			if err := tx.SetSiteGeometry(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := store.AssignMissingBioregions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 assignment, got %d", n)
	}
	for _, s := range store.Sites() {
		switch s.ID {
		case inside.ID:
			// MDD sorts first
			if s.BioregionID == nil || *s.BioregionID == riv.ID {
				t.Errorf("expected MDD, got %v", s.BioregionID)
			}
		case outside.ID:
			if s.BioregionID != nil {
				t.Error("site outside every region was assigned")
			}
		}
	}

	if n, _ := store.AssignMissingBioregions(ctx); n != 0 {
		t.Errorf("second pass assigned %d sites", n)
	}
}

func TestRollbackBatch(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	keep := uuid.New()
	drop := &archive.ImportBatch{SourceURL: "file://b"}
	if err := store.CreateBatch(ctx, drop); err != nil {
		t.Fatal(err)
	}

	err := store.RunInTx(ctx, func(tx archive.Tx) error {
		shared := &archive.Site{SiteName: "Shared", NormalizedName: "shared", ImportBatchID: &keep}
		fresh := &archive.Site{SiteName: "Fresh", NormalizedName: "fresh", ImportBatchID: &drop.ID}
		for _, s := range []*archive.Site{shared, fresh} {
			if err := tx.CreateSite(ctx, s); err != nil {
				return err
			}
		}
		old := &archive.Sample{SiteID: shared.ID, ImportBatchID: &keep}
		added := &archive.Sample{SiteID: fresh.ID, ImportBatchID: &drop.ID}
		for _, s := range []*archive.Sample{old, added} {
			if err := tx.CreateSample(ctx, s); err != nil {
				return err
			}
		}
		for _, a := range []*archive.AgeDetermination{
			{SampleID: old.ID, LabCode: "ANU-1", ImportBatchID: &keep},
			{SampleID: old.ID, LabCode: "ANU-2", ImportBatchID: &drop.ID},
			{SampleID: added.ID, LabCode: "ANU-3", ImportBatchID: &drop.ID},
		} {
			if err := tx.CreateAgeDetermination(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := store.RollbackBatch(ctx, drop.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res != (archive.RollbackResult{Ages: 2, Samples: 1, Sites: 1}) {
		t.Errorf("unexpected result %+v", res)
	}
	if len(store.Sites()) != 1 || len(store.Samples()) != 1 || len(store.Ages()) != 1 {
		t.Errorf("unexpected remaining rows: %d sites, %d samples, %d ages",
			len(store.Sites()), len(store.Samples()), len(store.Ages()))
	}
	b, err := store.GetBatch(ctx, drop.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Notes == "" {
		t.Error("rollback was not noted on the batch")
	}

	if _, err := store.RollbackBatch(ctx, uuid.New()); !errors.Is(err, archive.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"lake mungo", "lake mungo", 1},
		{"word", "", 0},
		// {"  w"," wo","wor","ord","rd "} vs {"  w"," wo","wor","orl","rld","ld "}: 3 shared of 8
		{"word", "world", 3.0 / 8},
	}
	for _, tt := range tests {
		got := memstore.Similarity(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
