package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserversFeedCounters(t *testing.T) {
	before := testutil.ToFloat64(verifications.WithLabelValues("valid"))
	ObserveVerification("valid")
	ObserveVerification("valid")
	if got := testutil.ToFloat64(verifications.WithLabelValues("valid")) - before; got != 2 {
		t.Fatalf("expected 2 new verifications, got %v", got)
	}

	ObserveAuthorityRequest("/api/grpc/single-hash", http.MethodPost, 0, 20*time.Millisecond)
	if got := testutil.ToFloat64(authorityRequests.WithLabelValues("/api/grpc/single-hash", http.MethodPost, "0")); got < 1 {
		t.Fatalf("network failures should be counted with code 0, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveHTTPRequest("proofs", http.MethodPost, http.StatusCreated, 30*time.Millisecond)
	ObserveAttestation("submitted")
	ObserveJob("succeeded")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`provable_http_requests_total{code="201",handler="proofs",method="POST"}`,
		`provable_http_request_duration_seconds_bucket{handler="proofs",method="POST",le="0.05"}`,
		`provable_attestations_total{outcome="submitted"}`,
		`provable_attestation_jobs_total{result="succeeded"}`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
