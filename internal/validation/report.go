package validation

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/austarch/austarch-db/internal/archive"
)

// Report is the aggregate output of one validation sweep.
type Report struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	Totals          archive.Totals         `json:"totals"`
	Integrity       []CheckResult          `json:"integrity"`
	Duplicates      []archive.LabCodeGroup `json:"duplicates"`
	Counts          []CountResult          `json:"record_counts"`
	Methods         []archive.MethodCount  `json:"methods"`
	HolocenePercent *float64               `json:"holocene_percent,omitempty"`
}

// FailedChecks counts integrity checks with at least one finding.
func (r *Report) FailedChecks() int {
	n := 0
	for _, c := range r.Integrity {
		if !c.Passed() {
			n++
		}
	}
	return n
}

// HasErrors reports whether an ERROR severity check has findings.
func (r *Report) HasErrors() bool {
	for _, c := range r.Integrity {
		if c.Severity == SeverityError && !c.Passed() {
			return true
		}
	}
	return false
}

func (r *Report) CountsOK() bool {
	for _, c := range r.Counts {
		if c.Status != CountPass {
			return false
		}
	}
	return true
}

// WriteText renders the report for a terminal.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "AustArch validation report (%s)\n", r.GeneratedAt.Format(time.RFC3339))
	rule := strings.Repeat("-", 60)

	fmt.Fprintf(w, "\nIntegrity checks\n%s\n", rule)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range r.Integrity {
		mark := "ok"
		if !c.Passed() {
			mark = "!!"
		}
		fmt.Fprintf(tw, "  [%s]\t%s\t%d\t%s\n", mark, c.Name, c.Count, c.Severity)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nDuplicate lab codes: %d\n%s\n", len(r.Duplicates), rule)
	for _, d := range r.Duplicates {
		ids := make([]string, len(d.IDs))
		for i, id := range d.IDs {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(w, "  %s: %s\n", d.LabCode, strings.Join(ids, ", "))
	}

	fmt.Fprintf(w, "\nRecord count verification\n%s\n", rule)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range r.Counts {
		need := fmt.Sprintf("need >= %d", c.Expected)
		if c.MinPercent > 0 {
			need = fmt.Sprintf("need %d%%", c.MinPercent)
		}
		fmt.Fprintf(tw, "  [%s]\t%s\t%d / %d\t(%.1f%%, %s)\n", c.Status, c.Metric, c.Actual, c.Expected, c.Percent, need)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nSummary\n%s\n", rule)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	t := r.Totals
	fmt.Fprintf(tw, "  Sites\t%d\n", t.Sites)
	fmt.Fprintf(tw, "  Samples\t%d\n", t.Samples)
	fmt.Fprintf(tw, "  Age determinations\t%d (%d radiocarbon, %d other)\n", t.Ages, t.RadiocarbonAges, t.NonRadiocarbonAges)
	fmt.Fprintf(tw, "  Bioregions with sites\t%d\n", t.BioregionsWithSites)
	fmt.Fprintf(tw, "  Import batches\t%d\n", t.Batches)
	if r.HolocenePercent != nil {
		fmt.Fprintf(tw, "  Holocene (< %d BP)\t%.1f%% of %d dated records\n", archive.HoloceneBoundaryBP, *r.HolocenePercent, t.AgesWithBP)
	}
	for _, m := range r.Methods {
		fmt.Fprintf(tw, "  Method %s\t%d\n", m.Code, m.Count)
	}
	return tw.Flush()
}
