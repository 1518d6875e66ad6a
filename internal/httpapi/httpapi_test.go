package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/portcall/mailgate/internal/forwarder"
	"github.com/portcall/mailgate/internal/model"
	"github.com/portcall/mailgate/internal/pipeline"
	"github.com/portcall/mailgate/internal/scheduler"
)

type stubRunner struct {
	stats model.SyncStats
}

func (r *stubRunner) Run(ctx context.Context, opts pipeline.RunOptions) (model.SyncStats, error) {
	return r.stats, nil
}

// testRouter wires a router around a stub pipeline; routes that need the
// repository are exercised in the repository package's own tests.
func testRouter(t *testing.T) http.Handler {
	t.Helper()
	sched := scheduler.New(&stubRunner{stats: model.SyncStats{NewEmails: 2, TotalProcessed: 2}}, time.Minute, nil)
	fwd := forwarder.New(forwarder.Config{}, nil, nil, nil)
	return NewRouter(Config{Scheduler: sched, Forwarder: fwd})
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRootAndHealth(t *testing.T) {
	h := testRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET / status = %d", rec.Code)
	}
	var root map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &root); err != nil {
		t.Fatalf("GET / body: %v", err)
	}
	if root["version"] == "" || root["message"] == "" {
		t.Errorf("GET / body = %v", root)
	}

	rec = doRequest(t, h, http.MethodGet, "/health", "")
	var health map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("GET /health body: %v", err)
	}
	if health["status"] != "healthy" || health["service"] != serviceName {
		t.Errorf("GET /health body = %v", health)
	}
}

func TestSyncManualBadSinceDateIs400(t *testing.T) {
	h := testRouter(t)
	rec := doRequest(t, h, http.MethodPost, "/sync/manual?since_date=not-a-date", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSyncManualReturnsStats(t *testing.T) {
	h := testRouter(t)
	rec := doRequest(t, h, http.MethodPost, "/sync/manual?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Success bool `json:"success"`
		Stats   struct {
			NewEmails int `json:"new_emails"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if !body.Success {
		t.Errorf("success = false, body %s", rec.Body.String())
	}
	if body.Stats.NewEmails != 2 {
		t.Errorf("stats.new_emails = %d, want 2", body.Stats.NewEmails)
	}
}

func TestSchedulerStatusBeforeStart(t *testing.T) {
	h := testRouter(t)
	rec := doRequest(t, h, http.MethodGet, "/scheduler/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if exists, ok := body["job_exists"].(bool); !ok || exists {
		t.Errorf("expected job_exists=false before Start, body = %v", body)
	}
}

func TestForwardNonNumericIDIs400(t *testing.T) {
	h := testRouter(t)
	rec := doRequest(t, h, http.MethodPost, "/emails/abc/forward", `{"to_addresses":["a@x.test"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestForwardEmptyRecipientsIs400(t *testing.T) {
	h := testRouter(t)
	rec := doRequest(t, h, http.MethodPost, "/emails/1/forward", `{"to_addresses":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
