package ingest

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/source"
	"github.com/google/uuid"
)

// Row statuses.
const (
	StatusPersisted        = "persisted"
	StatusSkipped          = "skipped_existing"
	StatusMalformed        = "malformed"
	StatusUnknownReference = "unknown_reference"
	StatusFailed           = "failed"
)

// RowResult is the outcome of one input row. Only rows that were not
// persisted cleanly are kept on the report.
type RowResult struct {
	File        string   `json:"file"`
	Line        int      `json:"line"`
	LabCode     string   `json:"lab_code,omitempty"`
	Status      string   `json:"status"`
	SiteCreated bool     `json:"site_created,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type FileReport struct {
	Name           string   `json:"name"`
	Location       string   `json:"location"`
	Skipped        bool     `json:"skipped,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	UnknownColumns []string `json:"unknown_columns,omitempty"`
	RowsRead       int      `json:"rows_read"`
	Persisted      int      `json:"persisted"`
}

// RunReport is the per-run summary handed to operators, as JSON or text.
type RunReport struct {
	BatchID    uuid.UUID           `json:"batch_id"`
	Status     archive.BatchStatus `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Files      []*FileReport       `json:"files"`

	RowsRead         int `json:"rows_read"`
	Persisted        int `json:"persisted"`
	Skipped          int `json:"skipped_existing"`
	Malformed        int `json:"malformed"`
	UnknownReference int `json:"unknown_reference"`
	Failed           int `json:"failed"`
	RowsWithWarnings int `json:"rows_with_warnings"`
	SitesCreated     int `json:"sites_created"`
	SitesMatched     int `json:"sites_matched"`

	Rows  []RowResult `json:"rows,omitempty"`
	Error string      `json:"error,omitempty"`

	mu sync.Mutex
}

func newRunReport(b *archive.ImportBatch) *RunReport {
	return &RunReport{BatchID: b.ID, Status: b.Status, StartedAt: b.StartedAt}
}

func (r *RunReport) addFile(in source.Input) *FileReport {
	fr := &FileReport{Name: in.Name, Location: in.Location}
	r.mu.Lock()
	r.Files = append(r.Files, fr)
	r.mu.Unlock()
	return fr
}

func (r *RunReport) add(fr *FileReport, res RowResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.RowsRead++
	fr.RowsRead++
	switch res.Status {
	case StatusPersisted:
		r.Persisted++
		fr.Persisted++
		if res.SiteCreated {
			r.SitesCreated++
		} else {
			r.SitesMatched++
		}
	case StatusSkipped:
		r.Skipped++
	case StatusMalformed:
		r.Malformed++
	case StatusUnknownReference:
		r.UnknownReference++
	case StatusFailed:
		r.Failed++
	}
	if len(res.Warnings) > 0 {
		r.RowsWithWarnings++
	}
	if res.Status != StatusPersisted || len(res.Warnings) > 0 {
		r.Rows = append(r.Rows, res)
	}
}

func (r *RunReport) finish(status archive.BatchStatus) {
	r.mu.Lock()
	r.Status = status
	r.FinishedAt = time.Now().UTC()
	r.mu.Unlock()
}

// Notes is the one-line summary stored on the import batch.
func (r *RunReport) Notes() string {
	return fmt.Sprintf("Sites: %d new, %d matched. Ages: %d created, %d skipped.",
		r.SitesCreated, r.SitesMatched, r.Persisted, r.Skipped+r.Malformed+r.UnknownReference+r.Failed)
}

// WriteText renders the report for a terminal. At most maxRows row issues
// are listed; maxRows < 0 lists all of them.
func (r *RunReport) WriteText(w io.Writer, maxRows int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Import batch\t%s\n", r.BatchID)
	fmt.Fprintf(tw, "Status\t%s\n", r.Status)
	fmt.Fprintf(tw, "Duration\t%s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", r.Error)
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Rows read\t%d\n", r.RowsRead)
	fmt.Fprintf(tw, "Persisted\t%d\n", r.Persisted)
	fmt.Fprintf(tw, "Skipped (existing lab code)\t%d\n", r.Skipped)
	fmt.Fprintf(tw, "Malformed\t%d\n", r.Malformed)
	fmt.Fprintf(tw, "Unknown reference\t%d\n", r.UnknownReference)
	fmt.Fprintf(tw, "Failed\t%d\n", r.Failed)
	fmt.Fprintf(tw, "Rows with warnings\t%d\n", r.RowsWithWarnings)
	fmt.Fprintf(tw, "Sites created / matched\t%d / %d\n", r.SitesCreated, r.SitesMatched)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nFiles:")
	for _, f := range r.Files {
		switch {
		case f.Skipped:
			fmt.Fprintf(w, "  %s: skipped (%s)\n", f.Name, f.Reason)
		default:
			fmt.Fprintf(w, "  %s: %d rows, %d persisted\n", f.Name, f.RowsRead, f.Persisted)
		}
		if len(f.UnknownColumns) > 0 && !f.Skipped {
			fmt.Fprintf(w, "    dropped columns: %v\n", f.UnknownColumns)
		}
	}

	if len(r.Rows) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRow issues:")
	for i, row := range r.Rows {
		if maxRows >= 0 && i >= maxRows {
			fmt.Fprintf(w, "  ... %d more\n", len(r.Rows)-i)
			break
		}
		fmt.Fprintf(w, "  %s:%d [%s]", row.File, row.Line, row.Status)
		if row.LabCode != "" {
			fmt.Fprintf(w, " %s", row.LabCode)
		}
		if row.Error != "" {
			fmt.Fprintf(w, " %s", row.Error)
		}
		fmt.Fprintln(w)
		for _, warn := range row.Warnings {
			fmt.Fprintf(w, "    - %s\n", warn)
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
