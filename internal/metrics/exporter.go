// Package metrics exposes live run metrics in the Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stampede/internal/core"
)

const namespace = "stampede"

// Exporter records every request result into its own registry. It
// implements core.Reporter so it can observe a collector.
type Exporter struct {
	registry *prometheus.Registry

	responses *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   prometheus.Histogram
	bytes     prometheus.Counter
	inFlight  prometheus.Gauge
}

// NewExporter creates an exporter whose series carry the run ID label.
func NewExporter(runID string) *Exporter {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"run_id": runID}
	factory := promauto.With(reg)

	return &Exporter{
		registry: reg,
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "responses_total",
			Help:        "HTTP responses received, by status code",
			ConstLabels: labels,
		}, []string{"code"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "failures_total",
			Help:        "Requests that produced no response, by failure kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "request_duration_seconds",
			Help:        "Request latency from dispatch to last body byte",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "response_bytes_total",
			Help:        "Decoded response body bytes received",
			ConstLabels: labels,
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "requests_in_flight",
			Help:        "Requests currently being executed",
			ConstLabels: labels,
		}),
	}
}

// Report records one result.
func (e *Exporter) Report(r core.RequestResult) {
	e.latency.Observe(r.Latency.Seconds())
	e.bytes.Add(float64(r.Bytes))
	if r.Success() {
		e.responses.WithLabelValues(strconv.Itoa(r.StatusCode)).Inc()
		return
	}
	e.failures.WithLabelValues(string(r.Failure)).Inc()
}

// InFlight returns the in-flight gauge for the worker pool to drive.
func (e *Exporter) InFlight() prometheus.Gauge {
	return e.inFlight
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve serves /metrics on ln until ctx is done, then shuts down.
func (e *Exporter) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (e *Exporter) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return e.Serve(ctx, ln)
}
