package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveRun("fallback", "ok", 20*time.Millisecond)
	m.ObserveRun("fallback", "ok", 10*time.Millisecond)
	m.ObserveSubmission("exercise", true, 10)
	m.ObserveSubmission("exercise", false, 0)
	m.ObserveSaveFailure()
	m.ObserveRequest("GET", "/v1/health", 200, time.Millisecond)
	m.SetActiveSessions(2)

	body := scrape(t, m)
	for _, want := range []string{
		`pylearner_runs_total{outcome="ok",strategy="fallback"} 2`,
		`pylearner_submissions_total{kind="exercise",result="awarded"} 1`,
		`pylearner_submissions_total{kind="exercise",result="resubmitted"} 1`,
		`pylearner_xp_awarded_total 10`,
		`pylearner_progress_save_failures_total 1`,
		`pylearner_http_requests_total{method="GET",route="/v1/health",status="200"} 1`,
		`pylearner_active_sessions 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition is missing %q", want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun("python", "ok", time.Second)
	m.ObserveSubmission("project", true, 50)
	m.ObserveSaveFailure()
	m.ObserveRequest("GET", "/v1/health", 200, time.Millisecond)
	m.SetActiveSessions(3)
}
