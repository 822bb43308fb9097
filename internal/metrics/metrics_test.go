package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{100: "1xx", 200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 503: "5xx"}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Errorf("statusBucket(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestObserveScoring(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("SUSPICIOUS"))
	hitsBefore := testutil.ToFloat64(RuleHitsTotal.WithLabelValues("international"))

	ObserveScoring("SUSPICIOUS", []string{"international"}, time.Millisecond)

	if got := testutil.ToFloat64(DecisionsTotal.WithLabelValues("SUSPICIOUS")); got != before+1 {
		t.Errorf("expected decisions counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(RuleHitsTotal.WithLabelValues("international")); got != hitsBefore+1 {
		t.Errorf("expected rule hits counter %v, got %v", hitsBefore+1, got)
	}
}

func TestObservePublish(t *testing.T) {
	okBefore := testutil.ToFloat64(EventsPublishedTotal.WithLabelValues("kestrel.decision", "ok"))
	errBefore := testutil.ToFloat64(EventsPublishedTotal.WithLabelValues("kestrel.decision", "error"))

	ObservePublish("kestrel.decision", nil)
	ObservePublish("kestrel.decision", errors.New("bus closed"))

	if got := testutil.ToFloat64(EventsPublishedTotal.WithLabelValues("kestrel.decision", "ok")); got != okBefore+1 {
		t.Errorf("expected ok counter %v, got %v", okBefore+1, got)
	}
	if got := testutil.ToFloat64(EventsPublishedTotal.WithLabelValues("kestrel.decision", "error")); got != errBefore+1 {
		t.Errorf("expected error counter %v, got %v", errBefore+1, got)
	}
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/sessions/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", Handler())

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/sessions/{id}/history", "4xx"))

	req := httptest.NewRequest("GET", "/sessions/abc/history", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/sessions/{id}/history", "4xx")); got != before+1 {
		t.Errorf("expected request counter %v, got %v", before+1, got)
	}

	req = httptest.NewRequest("GET", "/metrics", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kestrel_http_requests_total") {
		t.Error("expected kestrel_http_requests_total in exposition")
	}
}
