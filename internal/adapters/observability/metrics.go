package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pdl", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdl", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pdl", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdl", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pdl", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)

	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pdl", Name: "sync_runs_total", Help: "Sync runs by result."},
		[]string{"kind", "result"}, // result: ok|partial|failed|skipped
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdl", Name: "sync_run_duration_seconds",
			Help:    "Sync run duration seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind"},
	)
	SyncAgencyResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pdl", Name: "sync_agency_results_total", Help: "Per-agency property sync results."},
		[]string{"result"}, // ok|skipped|failed
	)
	SyncRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pdl", Name: "sync_rows_total", Help: "Reconciled rows by outcome."},
		[]string{"entity", "outcome"}, // entity: agency|property
	)
)

// Serve exposes the default registry on addr in the background. Empty addr disables it.
func Serve(addr string) {
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(InitRegistry()))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

var registry = func() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		SyncRuns, SyncDuration, SyncAgencyResults, SyncRows,
	)
	return reg
}()

// InitRegistry returns the process registry holding every collector above.
func InitRegistry() *prometheus.Registry { return registry }

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveRun(kind, result string, dur time.Duration) {
	SyncRuns.WithLabelValues(kind, result).Inc()
	if result != "skipped" {
		SyncDuration.WithLabelValues(kind).Observe(dur.Seconds())
	}
}

func ObserveAgencyResult(result string) {
	SyncAgencyResults.WithLabelValues(result).Inc()
}

func ObserveRows(entity, outcome string, n int) {
	if n > 0 {
		SyncRows.WithLabelValues(entity, outcome).Add(float64(n))
	}
}
