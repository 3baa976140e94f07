// Package validation sweeps the persisted archive for integrity defects,
// duplicate lab codes and shortfalls against expected record counts. It only
// reads; nothing here writes to the datastore.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type check struct {
	name     string
	probe    archive.Probe
	severity Severity
}

var checks = []check{
	{"Orphaned sites (no samples)", archive.ProbeOrphanedSites, SeverityWarning},
	{"Orphaned samples (no age determinations)", archive.ProbeOrphanedSamples, SeverityWarning},
	{"Empty import batches", archive.ProbeEmptyBatches, SeverityInfo},
	{"Accepted records with no age value", archive.ProbeUndatedAccepted, SeverityWarning},
	{"Inverted calibrated age ranges", archive.ProbeInvertedCalRanges, SeverityError},
	{"Unreasonable C14 ages (>60000 BP)", archive.ProbeUnreasonableC14, SeverityError},
	{"Sites missing coordinates", archive.ProbeMissingCoordinates, SeverityInfo},
	{"Sites with invalid coordinates", archive.ProbeInvalidCoordinates, SeverityError},
	{"Located sites without bioregion", archive.ProbeUnassignedBioregions, SeverityInfo},
}

// CheckResult is one integrity check. A check with Count zero passed.
type CheckResult struct {
	Name     string        `json:"name"`
	Probe    archive.Probe `json:"probe"`
	Count    int64         `json:"count"`
	Severity Severity      `json:"severity"`
}

func (c CheckResult) Passed() bool { return c.Count == 0 }

type CountStatus string

const (
	CountPass  CountStatus = "PASS"
	CountCheck CountStatus = "CHECK"
)

// CountResult compares one total with its baseline. MinPercent is zero for
// absolute floors.
type CountResult struct {
	Metric     string      `json:"metric"`
	Expected   int64       `json:"expected"`
	Actual     int64       `json:"actual"`
	Percent    float64     `json:"percent"`
	MinPercent int64       `json:"min_percent,omitempty"`
	Status     CountStatus `json:"status"`
}

type Options struct {
	Baselines Baselines
	Metrics   *metrics.Validation
	Log       *zap.Logger
}

type Engine struct {
	src       archive.Inspector
	baselines Baselines
	metrics   *metrics.Validation
	log       *zap.Logger
}

func NewEngine(src archive.Inspector, opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		src:       src,
		baselines: opts.Baselines,
		metrics:   opts.Metrics,
		log:       log.Named("validation"),
	}
}

// Integrity runs every integrity check in a fixed order.
func (e *Engine) Integrity(ctx context.Context) ([]CheckResult, error) {
	out := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		n, err := e.src.Count(ctx, c.probe)
		if err != nil {
			return nil, fmt.Errorf("integrity check %s: %w", c.probe, err)
		}
		out = append(out, CheckResult{Name: c.name, Probe: c.probe, Count: n, Severity: c.severity})
	}
	return out, nil
}

// Duplicates lists lab codes carried by more than one age determination.
func (e *Engine) Duplicates(ctx context.Context) ([]archive.LabCodeGroup, error) {
	groups, err := e.src.DuplicateLabCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("duplicate scan: %w", err)
	}
	return groups, nil
}

// VerifyCounts compares current totals against the baselines.
func (e *Engine) VerifyCounts(ctx context.Context) ([]CountResult, error) {
	t, err := e.src.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("totals: %w", err)
	}
	return e.verify(t), nil
}

func (e *Engine) verify(t archive.Totals) []CountResult {
	var out []CountResult
	ratio := func(metric string, expected, actual, minPercent int64) {
		if expected <= 0 {
			return
		}
		r := CountResult{
			Metric:     metric,
			Expected:   expected,
			Actual:     actual,
			Percent:    float64(actual) * 100 / float64(expected),
			MinPercent: minPercent,
			Status:     CountCheck,
		}
		// integer comparison keeps 95.0% exactly on the boundary
		if actual*100 >= expected*minPercent {
			r.Status = CountPass
		}
		out = append(out, r)
	}
	ratio("sites", e.baselines.Sites, t.Sites, 95)
	ratio("radiocarbon_ages", e.baselines.RadiocarbonAges, t.RadiocarbonAges, 95)
	ratio("non_radiocarbon_ages", e.baselines.NonRadiocarbonAges, t.NonRadiocarbonAges, 90)

	if b := e.baselines.Bioregions; b > 0 {
		r := CountResult{
			Metric:   "bioregions_with_sites",
			Expected: b,
			Actual:   t.BioregionsWithSites,
			Percent:  float64(t.BioregionsWithSites) * 100 / float64(b),
			Status:   CountCheck,
		}
		if t.BioregionsWithSites >= b {
			r.Status = CountPass
		}
		out = append(out, r)
	}
	return out
}

// Report runs every scan and gathers descriptive statistics. The queries
// run concurrently.
func (e *Engine) Report(ctx context.Context) (*Report, error) {
	start := time.Now()
	r := &Report{GeneratedAt: start.UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r.Integrity, err = e.Integrity(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		r.Duplicates, err = e.Duplicates(gctx)
		return err
	})
	g.Go(func() error {
		t, err := e.src.Totals(gctx)
		if err != nil {
			return fmt.Errorf("totals: %w", err)
		}
		r.Totals = t
		r.Counts = e.verify(t)
		return nil
	})
	g.Go(func() error {
		m, err := e.src.MethodCounts(gctx)
		if err != nil {
			return fmt.Errorf("method counts: %w", err)
		}
		r.Methods = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if r.Totals.AgesWithBP > 0 {
		pct := float64(r.Totals.HoloceneAges) * 100 / float64(r.Totals.AgesWithBP)
		r.HolocenePercent = &pct
	}

	took := time.Since(start)
	for _, c := range r.Integrity {
		e.metrics.Issue(string(c.Probe), string(c.Severity), c.Count)
	}
	for _, c := range r.Counts {
		e.metrics.Count(c.Metric, c.Actual)
	}
	e.metrics.Ran(r.GeneratedAt, took)

	e.log.Info("Validation finished",
		zap.Int("failed_checks", r.FailedChecks()),
		zap.Int("duplicate_lab_codes", len(r.Duplicates)),
		zap.Bool("counts_ok", r.CountsOK()),
		zap.Duration("took", took),
	)
	return r, nil
}
