package validation_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/archive/memstore"
	"github.com/austarch/austarch-db/internal/metrics"
	"github.com/austarch/austarch-db/internal/seeds"
	"github.com/austarch/austarch-db/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
)

func f(v float64) *float64 { return &v }

// fixture writes a small archive with one defect of each kind.
func fixture(t *testing.T) (*memstore.Store, map[string]int64) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	store.SeedReference(seeds.Methods(), seeds.Materials())
	methods, _ := store.DatingMethods(ctx)
	methodID := map[string]int64{}
	for _, m := range methods {
		methodID[m.Code] = m.ID
	}

	ids := map[string]int64{}
	err := store.RunInTx(ctx, func(tx archive.Tx) error {
		mungo := &archive.Site{SiteName: "Lake Mungo", NormalizedName: "lake mungo", Latitude: f(-33.7), Longitude: f(143.1)}
		offshore := &archive.Site{SiteName: "Offshore", NormalizedName: "offshore", Latitude: f(-45), Longitude: f(160)}
		unlocated := &archive.Site{SiteName: "Kow Swamp", NormalizedName: "kow swamp"}
		empty := &archive.Site{SiteName: "Empty", NormalizedName: "empty", Latitude: f(-30), Longitude: f(135)}
		for _, s := range []*archive.Site{mungo, offshore, unlocated, empty} {
			if err := tx.CreateSite(ctx, s); err != nil {
				return err
			}
		}
		ids["mungo"], ids["empty"] = mungo.ID, empty.ID

		dated := &archive.Sample{SiteID: mungo.ID}
		orphan := &archive.Sample{SiteID: unlocated.ID}
		off := &archive.Sample{SiteID: offshore.ID}
		for _, s := range []*archive.Sample{dated, orphan, off} {
			if err := tx.CreateSample(ctx, s); err != nil {
				return err
			}
		}
		ids["orphan_sample"] = orphan.ID

		ages := []*archive.AgeDetermination{
			{SampleID: dated.ID, LabCode: "ANU-1", MethodID: methodID["C14"], C14Age: f(56000), AgeBP: f(56000)},
			{SampleID: dated.ID, LabCode: "ANU-2", MethodID: methodID["C14"], C14Age: f(61000), AgeBP: f(61000)},
			{SampleID: dated.ID, LabCode: "ANU-3", MethodID: methodID["C14"], C14Age: f(3000), AgeBP: f(3000), CalAgeBPFrom: f(5000), CalAgeBPTo: f(8000)},
			{SampleID: dated.ID, LabCode: "ANU-3", MethodID: methodID["AMS"], C14Age: f(3100), AgeBP: f(3100)},
			{SampleID: off.ID, LabCode: "OXL-1", MethodID: methodID["OSL"]},
			{SampleID: off.ID, LabCode: "OXL-2", MethodID: methodID["OSL"], IsRejected: true},
		}
		for _, a := range ages {
			if err := tx.CreateAgeDetermination(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return store, ids
}

func TestIntegrity(t *testing.T) {
	store, _ := fixture(t)
	e := validation.NewEngine(store, validation.Options{Baselines: validation.DefaultBaselines})

	results, err := e.Integrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := map[archive.Probe]int64{}
	for _, r := range results {
		got[r.Probe] = r.Count
	}
	want := map[archive.Probe]int64{
		archive.ProbeOrphanedSites:      1, // Empty
		archive.ProbeOrphanedSamples:    1,
		archive.ProbeUndatedAccepted:    1, // OXL-1; OXL-2 is rejected
		archive.ProbeInvertedCalRanges:  1,
		archive.ProbeUnreasonableC14:    1, // 61000 only, 56000 is below the alarm
		archive.ProbeMissingCoordinates: 1,
		archive.ProbeInvalidCoordinates: 1,
	}
	for probe, n := range want {
		if got[probe] != n {
			t.Errorf("%s = %d, want %d", probe, got[probe], n)
		}
	}
	if len(results) != 9 {
		t.Errorf("expected 9 checks, got %d", len(results))
	}
}

func TestIntegrity_OrphanedSampleCascadesWithSite(t *testing.T) {
	store, ids := fixture(t)
	ctx := context.Background()
	e := validation.NewEngine(store, validation.Options{})

	if err := store.DeleteSite(ctx, ids["mungo"]); err != nil {
		t.Fatal(err)
	}
	for _, s := range store.Samples() {
		if s.SiteID == ids["mungo"] {
			t.Fatal("sample survived deletion of its site")
		}
	}
	results, err := e.Integrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Probe == archive.ProbeInvertedCalRanges && r.Count != 0 {
			t.Error("ages of the deleted site are still counted")
		}
	}
}

func TestDuplicates(t *testing.T) {
	store, _ := fixture(t)
	e := validation.NewEngine(store, validation.Options{})
	groups, err := e.Duplicates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].LabCode != "ANU-3" || len(groups[0].IDs) != 2 {
		t.Fatalf("unexpected duplicates %+v", groups)
	}
	if n := len(store.Ages()); n != 6 {
		t.Errorf("duplicate scan changed the data: %d ages", n)
	}
}

// totalsOnly is an Inspector reporting fixed totals.
type totalsOnly struct {
	archive.Inspector
	totals archive.Totals
	err    error
}

func (t totalsOnly) Totals(ctx context.Context) (archive.Totals, error) { return t.totals, t.err }

func TestVerifyCounts(t *testing.T) {
	tests := []struct {
		name   string
		totals archive.Totals
		want   map[string]validation.CountStatus
	}{
		{
			name:   "within tolerance",
			totals: archive.Totals{Sites: 1664, RadiocarbonAges: 4792, NonRadiocarbonAges: 431, BioregionsWithSites: 70},
			want: map[string]validation.CountStatus{
				"sites": validation.CountPass, "radiocarbon_ages": validation.CountPass,
				"non_radiocarbon_ages": validation.CountPass, "bioregions_with_sites": validation.CountPass,
			},
		},
		{
			name:   "short",
			totals: archive.Totals{Sites: 1600, RadiocarbonAges: 4791, NonRadiocarbonAges: 430, BioregionsWithSites: 69},
			want: map[string]validation.CountStatus{
				"sites": validation.CountCheck, "radiocarbon_ages": validation.CountCheck,
				"non_radiocarbon_ages": validation.CountCheck, "bioregions_with_sites": validation.CountCheck,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validation.NewEngine(totalsOnly{totals: tt.totals}, validation.Options{Baselines: validation.DefaultBaselines})
			results, err := e.VerifyCounts(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 4 {
				t.Fatalf("expected 4 results, got %d", len(results))
			}
			for _, r := range results {
				if r.Status != tt.want[r.Metric] {
					t.Errorf("%s: %d/%d = %s, want %s", r.Metric, r.Actual, r.Expected, r.Status, tt.want[r.Metric])
				}
			}
		})
	}
}

func TestVerifyCounts_SkipsZeroBaselines(t *testing.T) {
	e := validation.NewEngine(totalsOnly{totals: archive.Totals{Sites: 10}}, validation.Options{Baselines: validation.Baselines{Sites: 10}})
	results, err := e.VerifyCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Metric != "sites" || results[0].Status != validation.CountPass {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestVerifyCounts_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	e := validation.NewEngine(totalsOnly{err: boom}, validation.Options{Baselines: validation.DefaultBaselines})
	if _, err := e.VerifyCounts(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestReport(t *testing.T) {
	store, _ := fixture(t)
	reg := prometheus.NewRegistry()
	e := validation.NewEngine(store, validation.Options{
		Baselines: validation.DefaultBaselines,
		Metrics:   metrics.NewValidation(reg),
	})

	r, err := e.Report(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasErrors() || r.CountsOK() {
		t.Errorf("HasErrors=%v CountsOK=%v", r.HasErrors(), r.CountsOK())
	}
	if r.Totals.Ages != 6 || r.Totals.RadiocarbonAges != 4 {
		t.Errorf("unexpected totals %+v", r.Totals)
	}
	// dated: 56000, 61000, 3000, 3100 -> two Holocene of four
	if r.HolocenePercent == nil || *r.HolocenePercent != 50 {
		t.Errorf("holocene percent = %v", r.HolocenePercent)
	}

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Inverted calibrated age ranges", "ANU-3:", "[CHECK]", "Holocene", "50.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("report text missing %q:\n%s", want, out)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"austarch_validation_issues", "austarch_validation_record_count", "austarch_validation_last_run_timestamp_seconds"} {
		if !names[want] {
			t.Errorf("metric %s not exported", want)
		}
	}
}

func TestLoadBaselines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baselines.yaml")
	if err := os.WriteFile(path, []byte("sites: 1800\nbioregions: 65\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := validation.LoadBaselines(path)
	if err != nil {
		t.Fatal(err)
	}
	want := validation.Baselines{Sites: 1800, RadiocarbonAges: 5044, NonRadiocarbonAges: 478, Bioregions: 65}
	if b != want {
		t.Errorf("LoadBaselines = %+v, want %+v", b, want)
	}

	if b, err := validation.LoadBaselines(""); err != nil || b != validation.DefaultBaselines {
		t.Errorf("empty path = %+v, %v", b, err)
	}
	if _, err := validation.LoadBaselines(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("sites: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := validation.LoadBaselines(bad); err == nil {
		t.Error("expected error for negative counts")
	}
}
