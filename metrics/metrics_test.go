package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide; the default global registry would
	// panic on duplicate registration.
	a := New()
	b := New()
	a.RecordJob("parse", "ok")
	b.RecordJob("parse", "ok")
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RecordAdmission("acme", "accepted")
	m.RecordAdmission("acme", "rejected")
	m.RecordJob("policy", "ok")
	m.RecordVectors("acme", "text", 12)
	m.ObserveStage("embed", time.Now().Add(-50*time.Millisecond))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	out := string(body)

	for _, want := range []string{
		`sluice_intake_files_total{status="accepted",tenant_id="acme"} 1`,
		`sluice_intake_files_total{status="rejected",tenant_id="acme"} 1`,
		`sluice_jobs_total{outcome="ok",stage="policy"} 1`,
		`sluice_vectors_indexed_total{collection_kind="text",tenant_id="acme"} 12`,
		"sluice_stage_seconds_count",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
