// Package metrics exposes Prometheus instrumentation for runs, rounds and
// external service calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "segmesh"

// Metrics holds the collectors of one registry.
type Metrics struct {
	runsStarted    prometheus.Counter
	runsFinished   *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runRounds      prometheus.Histogram
	activeRuns     prometheus.Gauge
	rounds         prometheus.Counter
	retries        *prometheus.CounterVec
	parseFailures  *prometheus.CounterVec
	reasoningCalls *prometheus.HistogramVec
	segmentCalls   *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	masksProduced  prometheus.Counter
	toolCalls      *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg returns nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of agent runs started.",
		}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of agent runs finished by terminal status.",
		}, []string{"status"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of agent runs in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		runRounds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_rounds",
			Help:      "Number of rounds used per finished run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
		}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of agent runs in progress.",
		}),
		rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of rounds started.",
		}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_retries_total",
			Help:      "Corrective retries inside a round by error class.",
		}, []string{"class"}),
		parseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Tool call parse failures by kind.",
		}, []string{"kind"}),
		reasoningCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "call_duration_seconds",
			Help:      "Duration of Reasoning Service calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		segmentCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "segmentation",
			Name:      "call_duration_seconds",
			Help:      "Duration of Segmentation Service calls in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120},
		}, []string{"status"}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segmentation",
			Name:      "cache_hits_total",
			Help:      "segment_phrase calls answered from the run's phrase cache.",
		}),
		masksProduced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segmentation",
			Name:      "masks_total",
			Help:      "Masks kept after overlap resolution.",
		}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Dispatched tool calls by tool and outcome.",
		}, []string{"tool", "status"}),
	}
}

// RunStarted records a started run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished records a finished run.
func (m *Metrics) RunFinished(status string, rounds int, d time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsFinished.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
	m.runRounds.Observe(float64(rounds))
}

// RoundStarted records a new round.
func (m *Metrics) RoundStarted() {
	if m == nil {
		return
	}
	m.rounds.Inc()
}

// Retry records a corrective retry.
func (m *Metrics) Retry(class string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(class).Inc()
}

// ParseFailed records a tool call parse failure.
func (m *Metrics) ParseFailed(kind string) {
	if m == nil {
		return
	}
	m.parseFailures.WithLabelValues(kind).Inc()
}

// ReasoningCall records a Reasoning Service call.
func (m *Metrics) ReasoningCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.reasoningCalls.WithLabelValues(status(err)).Observe(d.Seconds())
}

// SegmentationCall records a Segmentation Service call or a cache hit.
func (m *Metrics) SegmentationCall(d time.Duration, cached bool, masks int, err error) {
	if m == nil {
		return
	}
	if cached {
		m.cacheHits.Inc()
		return
	}
	m.segmentCalls.WithLabelValues(status(err)).Observe(d.Seconds())
	if err == nil {
		m.masksProduced.Add(float64(masks))
	}
}

// ToolCall records a dispatched tool call.
func (m *Metrics) ToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
