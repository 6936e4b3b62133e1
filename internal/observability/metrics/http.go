// Package metrics exposes Prometheus counters and histograms for authority
// round trips, attestations, verifications and the HTTP gateway.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "provable"

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	authorityRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authority_requests_total",
		Help:      "Round trips to the proof authority by route, method and status code (0 when no response).",
	}, []string{"route", "method", "code"})

	authorityLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "authority_request_duration_seconds",
		Help:      "Proof authority round trip duration in seconds.",
		Buckets:   latencyBuckets,
	}, []string{"route", "method"})

	verifications = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Envelope verifications by outcome.",
	}, []string{"outcome"})

	attestations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attestations_total",
		Help:      "Digest submissions by outcome.",
	}, []string{"outcome"})

	jobs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attestation_jobs_total",
		Help:      "Asynchronous attestation jobs by result.",
	}, []string{"result"})

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   latencyBuckets,
	}, []string{"handler", "method"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveAuthorityRequest records one authority round trip. Its signature
// matches kayros.Observer.
func ObserveAuthorityRequest(route, method string, status int, duration time.Duration) {
	authorityRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	authorityLatency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObserveVerification counts one verification outcome.
func ObserveVerification(outcome string) {
	verifications.WithLabelValues(outcome).Inc()
}

// ObserveAttestation counts one attestation outcome.
func ObserveAttestation(outcome string) {
	attestations.WithLabelValues(outcome).Inc()
}

// ObserveJob counts one processed attestation job: succeeded, retried or
// failed.
func ObserveJob(result string) {
	jobs.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
