// Package metrics exposes maintenance decisions and server status as
// Prometheus metrics.
//
// One-shot runs write a node_exporter textfile; watch mode serves the
// registry over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "idlereboot"

// Query result labels.
const (
	QueryOK        = "ok"
	QueryTimeout   = "timeout"
	QueryMalformed = "malformed"
	QueryError     = "error"
)

// Collector holds every metric the orchestrator updates.
type Collector struct {
	registry *prometheus.Registry

	players    prometheus.Gauge
	maxPlayers prometheus.Gauge
	bots       prometheus.Gauge

	queries       *prometheus.CounterVec
	queryLatency  prometheus.Histogram
	decisions     *prometheus.CounterVec
	restartErrors prometheus.Counter
	runErrors     prometheus.Counter

	lastRestart prometheus.Gauge
	nextWindow  prometheus.Gauge
	lastRun     prometheus.Gauge
}

// NewCollector creates the metrics on a private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players",
			Help:      "Players connected at the last query",
		}),
		maxPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_players",
			Help:      "Player slots reported at the last query",
		}),
		bots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bots",
			Help:      "Bots reported at the last query",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "A2S_INFO queries by result",
		}, []string{"result"}),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "A2S_INFO round trip time",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3},
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Maintenance runs by decision",
		}, []string{"decision"}),
		restartErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restart_command_failures_total",
			Help:      "Restart commands that exited with an error",
		}),
		runErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_errors_total",
			Help:      "Maintenance runs aborted by an error",
		}),
		lastRestart: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_restart_timestamp_seconds",
			Help:      "Unix time of the last recorded restart",
		}),
		nextWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_start_timestamp_seconds",
			Help:      "Unix time the current or next maintenance window opens",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last maintenance run",
		}),
	}

	reg.MustRegister(
		c.players, c.maxPlayers, c.bots,
		c.queries, c.queryLatency, c.decisions,
		c.restartErrors, c.runErrors,
		c.lastRestart, c.nextWindow, c.lastRun,
	)

	return c
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordQuery counts a query by result and observes its latency.
func (c *Collector) RecordQuery(result string, took time.Duration) {
	c.queries.WithLabelValues(result).Inc()
	c.queryLatency.Observe(took.Seconds())
}

// SetServerStatus updates the player gauges.
func (c *Collector) SetServerStatus(players, maxPlayers, bots uint8) {
	c.players.Set(float64(players))
	c.maxPlayers.Set(float64(maxPlayers))
	c.bots.Set(float64(bots))
}

// RecordDecision counts a completed run.
func (c *Collector) RecordDecision(decision string, at time.Time) {
	c.decisions.WithLabelValues(decision).Inc()
	c.lastRun.Set(float64(at.Unix()))
}

// RecordRunError counts a run aborted by an error.
func (c *Collector) RecordRunError(at time.Time) {
	c.runErrors.Inc()
	c.lastRun.Set(float64(at.Unix()))
}

// RecordRestartFailure counts a restart command error.
func (c *Collector) RecordRestartFailure() {
	c.restartErrors.Inc()
}

// SetLastRestart publishes the ledger stamp.
func (c *Collector) SetLastRestart(t time.Time) {
	c.lastRestart.Set(float64(t.Unix()))
}

// SetWindowStart publishes the start of the current or next window.
func (c *Collector) SetWindowStart(t time.Time) {
	c.nextWindow.Set(float64(t.Unix()))
}

// WriteTextfile writes the registry for the node_exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// Handler serves the registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
