// Package metrics exposes Prometheus meters for the binder client.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes.
const (
	EventDispatched = "dispatched"
	EventDropped    = "dropped"
)

// Metrics holds a private registry and the client meters.
type Metrics struct {
	Registry     *prometheus.Registry
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	PendingCalls prometheus.Gauge
	EventsTotal  *prometheus.CounterVec
}

// NewMetrics creates a custom registry with the standard client meters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	callsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alexa_viewer_calls_total",
		Help: "Total number of binder calls by outcome.",
	}, []string{"api", "verb", "status"})

	callDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alexa_viewer_call_duration_seconds",
		Help:    "Time from submission to completion of binder calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"api", "verb"})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alexa_viewer_pending_calls",
		Help: "Calls submitted and not yet completed.",
	})

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alexa_viewer_events_total",
		Help: "Events received from the binder by outcome.",
	}, []string{"outcome"})

	reg.MustRegister(callsTotal, callDuration, pending, eventsTotal)

	return &Metrics{
		Registry:     reg,
		CallsTotal:   callsTotal,
		CallDuration: callDuration,
		PendingCalls: pending,
		EventsTotal:  eventsTotal,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Mux routes /metrics to Handler and answers /health with 200 OK.
func (m *Metrics) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve starts an HTTP server for Mux on addr in the background. The caller
// shuts it down.
func (m *Metrics) Serve(addr string, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{Addr: addr, Handler: m.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}
