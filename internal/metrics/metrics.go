// Package metrics exposes Prometheus collectors for the HTTP layer and services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and middleware report to. Nop satisfies it for tests.
type Recorder interface {
	ObserveRequest(method, route string, status int, d time.Duration)
	WatchlistMutation(op, result string)
	ConflictRetry()
	LoginFailure(reason string)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	mutations     *prometheus.CounterVec
	retries       prometheus.Counter
	loginFailures *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvault_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamvault_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvault_watchlist_mutations_total",
			Help: "Watchlist mutations by operation and result.",
		}, []string{"op", "result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvault_watchlist_conflict_retries_total",
			Help: "Watchlist mutations retried after a version conflict.",
		}),
		loginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvault_login_failures_total",
			Help: "Rejected logins by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(c.requests, c.latency, c.mutations, c.retries, c.loginFailures)
	return c
}

func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) WatchlistMutation(op, result string) {
	c.mutations.WithLabelValues(op, result).Inc()
}

func (c *Collector) ConflictRetry() { c.retries.Inc() }

func (c *Collector) LoginFailure(reason string) {
	c.loginFailures.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveRequest(string, string, int, time.Duration) {}
func (Nop) WatchlistMutation(string, string) {}
func (Nop) ConflictRetry() {}
func (Nop) LoginFailure(string) {}
