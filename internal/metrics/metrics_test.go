package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/austarch/austarch-db/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIngestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewIngest(reg)

	m.Row("persisted", 10*time.Millisecond)
	m.Row("persisted", 20*time.Millisecond)
	m.Row("malformed", time.Millisecond)
	m.Retry()
	m.Site(true)
	m.Site(false)
	m.Batch("completed")

	want := `
# HELP austarch_ingest_rows_total Source rows processed, by outcome.
# TYPE austarch_ingest_rows_total counter
austarch_ingest_rows_total{status="malformed"} 1
austarch_ingest_rows_total{status="persisted"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "austarch_ingest_rows_total"); err != nil {
		t.Fatal(err)
	}
	if n := testutil.CollectAndCount(reg, "austarch_ingest_retries_total"); n != 1 {
		t.Errorf("expected retries metric, got %d series", n)
	}
}

func TestNilInstrumentsAreNoops(t *testing.T) {
	var ing *metrics.Ingest
	ing.Row("persisted", time.Second)
	ing.Retry()
	ing.Site(true)
	ing.Batch("failed")

	var v *metrics.Validation
	v.Issue("orphaned_sites", "WARNING", 3)
	v.Count("sites", 10)
	v.Ran(time.Now(), time.Second)
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	v := metrics.NewValidation(reg)
	v.Issue("orphaned_samples", "WARNING", 4)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `austarch_validation_issues{check="orphaned_samples",severity="WARNING"} 4`) {
		t.Errorf("metric missing from output:\n%s", body)
	}
}
