// Package telemetry exposes process-wide call metrics over Prometheus's
// client_golang registry.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every Prometheus collector this process registers.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal       *prometheus.CounterVec
	InterruptsTotal  prometheus.Counter
	TranscriptionErr prometheus.Counter
	LLMErr           prometheus.Counter
	TTSErr           prometheus.Counter
	TurnLatency      *prometheus.HistogramVec
	TimeToFirstAudio prometheus.Histogram
	ActiveCalls      prometheus.Gauge
}

// New registers and returns a fresh Metrics set.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callwave_turns_total",
			Help: "Completed conversation turns, labeled by bottleneck stage.",
		}, []string{"bottleneck"}),
		InterruptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callwave_interrupts_total",
			Help: "Turns cut short by a barge-in.",
		}),
		TranscriptionErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callwave_stt_errors_total",
			Help: "Speech-to-text failures.",
		}),
		LLMErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callwave_llm_errors_total",
			Help: "Language model failures.",
		}),
		TTSErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callwave_tts_errors_total",
			Help: "Text-to-speech failures.",
		}),
		TurnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callwave_turn_latency_seconds",
			Help:    "Per-stage turn latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		TimeToFirstAudio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "callwave_time_to_first_audio_seconds",
			Help:    "Time from end of caller speech to first audio byte played back.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callwave_active_calls",
			Help: "Calls currently in progress.",
		}),
	}

	registry.MustRegister(
		m.TurnsTotal,
		m.InterruptsTotal,
		m.TranscriptionErr,
		m.LLMErr,
		m.TTSErr,
		m.TurnLatency,
		m.TimeToFirstAudio,
		m.ActiveCalls,
	)

	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
