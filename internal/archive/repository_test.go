package archive_test

import (
	"context"
	"errors"
	"testing"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/seeds"
	"github.com/austarch/austarch-db/internal/testhelpers"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func f(v float64) *float64 { return &v }

func newRepo(t *testing.T) *archive.Repository {
	t.Helper()
	tdb := testhelpers.GetTestDB(t)
	tdb.Reset(t)
	return archive.NewRepository(tdb.DB)
}

func methodID(t *testing.T, repo *archive.Repository, code string) int64 {
	t.Helper()
	methods, err := repo.DatingMethods(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range methods {
		if m.Code == code {
			return m.ID
		}
	}
	t.Fatalf("method %s not seeded", code)
	return 0
}

func TestRepository_SiteGeometryAndBioregions(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	tdb := testhelpers.GetTestDB(t)

	rows := []seeds.BioregionRow{
		{Code: "MDD", Name: "Murray Darling Depression", State: "NSW", WKT: "POLYGON((142 -35, 145 -35, 145 -32, 142 -32, 142 -35))"},
		{Code: "RIV", Name: "Riverina", State: "NSW", WKT: "POLYGON((143 -35, 146 -35, 146 -33, 143 -33, 143 -35))"},
	}
	if _, err := seeds.SeedBioregions(ctx, tdb.DB, rows, zap.NewNop()); err != nil {
		t.Fatal(err)
	}

	site := &archive.Site{SiteName: "Lake Mungo", NormalizedName: "lake mungo", Latitude: f(-33.7), Longitude: f(143.1)}
	err := repo.RunInTx(ctx, func(tx archive.Tx) error {
		if err := tx.CreateSite(ctx, site); err != nil {
			return err
		}
		return tx.SetSiteGeometry(ctx, site)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !site.HasGeometry {
		t.Error("expected geometry to be set")
	}

	regions, err := repo.ContainingBioregions(ctx, -33.7, 143.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 2 || regions[0].Code != "MDD" {
		t.Fatalf("expected both regions ordered by code, got %+v", regions)
	}

	n, err := repo.AssignMissingBioregions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 site assigned, got %d", n)
	}
	got, err := repo.SitesByNormalizedName(ctx, "lake mungo")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].BioregionID == nil || *got[0].BioregionID != regions[0].ID {
		t.Errorf("expected lowest code to win, got %+v", got)
	}
}

func TestRepository_SimilarSites(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for _, name := range []string{"lake mungo", "lake mungo rockshelter", "devils lair"} {
		if err := repo.CreateSite(ctx, &archive.Site{SiteName: name, NormalizedName: name}); err != nil {
			t.Fatal(err)
		}
	}
	matches, err := repo.SimilarSites(ctx, "lake mung", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 || matches[0].Site.NormalizedName != "lake mungo" {
		t.Fatalf("unexpected matches %+v", matches)
	}
	for _, m := range matches {
		if m.Site.NormalizedName == "devils lair" {
			t.Error("unrelated site matched")
		}
	}
}

func TestRepository_SimilarSitesBelowTrigramDefault(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	if err := repo.CreateSite(ctx, &archive.Site{SiteName: "Lake Mungo Rockshelter", NormalizedName: "lake mungo rockshelter"}); err != nil {
		t.Fatal(err)
	}
	// 6 shared trigrams of 23, under pg_trgm's default limit of 0.3
	matches, err := repo.SimilarSites(ctx, "mungo", 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Similarity >= 0.3 {
		t.Fatalf("expected one low-similarity match, got %+v", matches)
	}
}

func TestRepository_InspectAndRollback(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	batch := &archive.ImportBatch{ID: uuid.New(), SourceURL: "file://test", Status: archive.BatchRunning}
	if err := repo.CreateBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}
	c14 := methodID(t, repo, "C14")

	err := repo.RunInTx(ctx, func(tx archive.Tx) error {
		site := &archive.Site{SiteName: "Kow Swamp", NormalizedName: "kow swamp", ImportBatchID: &batch.ID}
		if err := tx.CreateSite(ctx, site); err != nil {
			return err
		}
		sample := &archive.Sample{SiteID: site.ID, ImportBatchID: &batch.ID}
		if err := tx.CreateSample(ctx, sample); err != nil {
			return err
		}
		for _, a := range []*archive.AgeDetermination{
			{SampleID: sample.ID, LabCode: "ANU-1", MethodID: c14, C14Age: f(9000), AgeBP: f(9000), ImportBatchID: &batch.ID},
			{SampleID: sample.ID, LabCode: "ANU-1", MethodID: c14, C14Age: f(61000), AgeBP: f(61000), ImportBatchID: &batch.ID},
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
	if err := repo.FinishBatch(ctx, batch.ID, archive.BatchCompleted, 2, "Ages: 2 created"); err != nil {
		t.Fatal(err)
	}

	exists, err := repo.LabCodeExists(ctx, "ANU-1")
	if err != nil || !exists {
		t.Fatalf("LabCodeExists = %v, %v", exists, err)
	}
	dups, err := repo.DuplicateLabCodes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dups) != 1 || len(dups[0].IDs) != 2 {
		t.Errorf("unexpected duplicates %+v", dups)
	}
	tests := []struct {
		probe archive.Probe
		want  int64
	}{
		{archive.ProbeUnreasonableC14, 1},
		{archive.ProbeMissingCoordinates, 1},
		{archive.ProbeOrphanedSites, 0},
		{archive.ProbeEmptyBatches, 0},
	}
	for _, tt := range tests {
		n, err := repo.Count(ctx, tt.probe)
		if err != nil {
			t.Fatal(err)
		}
		if n != tt.want {
			t.Errorf("%s = %d, want %d", tt.probe, n, tt.want)
		}
	}
	totals, err := repo.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if totals.Sites != 1 || totals.RadiocarbonAges != 2 || totals.HoloceneAges != 1 {
		t.Errorf("unexpected totals %+v", totals)
	}
	if err := repo.RefreshSummary(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := repo.RollbackBatch(ctx, batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res != (archive.RollbackResult{Ages: 2, Samples: 1, Sites: 1}) {
		t.Errorf("unexpected rollback result %+v", res)
	}
	b, err := repo.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Notes == "Ages: 2 created" {
		t.Error("rollback was not noted on the batch")
	}

	if _, err := repo.RollbackBatch(ctx, uuid.New()); !errors.Is(err, archive.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetBatch(ctx, uuid.New()); !errors.Is(err, archive.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepository_TxRollsBackOnError(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, func(tx archive.Tx) error {
		if err := tx.LockKey(ctx, "site:lake mungo"); err != nil {
			return err
		}
		if err := tx.CreateSite(ctx, &archive.Site{SiteName: "Lake Mungo", NormalizedName: "lake mungo"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	sites, err := repo.SitesByNormalizedName(ctx, "lake mungo")
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 0 {
		t.Errorf("site survived the rolled back transaction")
	}
}
