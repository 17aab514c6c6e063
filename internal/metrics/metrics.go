// Package metrics exposes Prometheus collectors for sessions, turns and the
// chat feed.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	BatchesTotal   prometheus.Counter
	TurnsTotal     *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	StageErrors    *prometheus.CounterVec
	AudioBytes     prometheus.Counter
	FeedReconnects prometheus.Counter
	ConfigSwitches *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vtuber"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_sessions_active",
			Help:      "Number of connected front-end sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_sessions_total",
			Help:      "Total number of front-end sessions by close reason",
		}, []string{"reason"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "client_session_duration_seconds",
			Help:      "Front-end session duration in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 10800},
		}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_batches_total",
			Help:      "Total number of live chat batches handed to the conversation pipeline",
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Total number of conversation turns by result",
		}, []string{"result"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_turn_duration_seconds",
			Help:      "Time from prompt to chain end in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_stage_errors_total",
			Help:      "Total number of conversation failures by stage",
		}, []string{"stage"}),
		AudioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total synthesized audio bytes delivered",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_feed_reconnects_total",
			Help:      "Total number of live chat feed reconnections",
		}),
		ConfigSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_switches_total",
			Help:      "Total number of configuration switches by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.BatchesTotal,
		m.TurnsTotal,
		m.TurnDuration,
		m.StageErrors,
		m.AudioBytes,
		m.FeedReconnects,
		m.ConfigSwitches,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) BatchReceived() {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
}

// TurnFinished records a pipeline run. stage is empty on success.
func (m *Metrics) TurnFinished(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	if stage == "" {
		m.TurnsTotal.WithLabelValues("ok").Inc()
	} else {
		m.TurnsTotal.WithLabelValues("error").Inc()
		m.StageErrors.WithLabelValues(stage).Inc()
	}
	m.TurnDuration.Observe(duration.Seconds())
}

func (m *Metrics) AudioDelivered(bytes int) {
	if m == nil {
		return
	}
	m.AudioBytes.Add(float64(bytes))
}

func (m *Metrics) FeedReconnected() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

func (m *Metrics) ConfigSwitched(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.ConfigSwitches.WithLabelValues("ok").Inc()
	} else {
		m.ConfigSwitches.WithLabelValues("error").Inc()
	}
}
