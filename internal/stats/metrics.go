package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeInvalid = "invalid"
)

var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgbridge",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls dispatched, by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgbridge",
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Duration of tool executions in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"tool"},
	)

	modelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgbridge",
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Model completions, by turn and outcome.",
		},
		[]string{"turn", "outcome"},
	)

	modelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgbridge",
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Duration of model completions in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"turn"},
	)

	rebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgbridge",
			Subsystem: "bridge",
			Name:      "rebuilds_total",
			Help:      "Source rebuilds, by component and outcome.",
		},
		[]string{"component", "outcome"},
	)

	activeGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kgbridge",
			Subsystem: "bridge",
			Name:      "active_generation",
			Help:      "Generation number of the published snapshot.",
		},
	)

	activeTools = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kgbridge",
			Subsystem: "bridge",
			Name:      "active_tools",
			Help:      "Number of tools offered to the model.",
		},
	)
)

// OutcomeOf maps an error to an outcome label.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case apperrors.IsTimeout(err):
		return OutcomeTimeout
	case apperrors.HasCode(err, apperrors.CodeInvalidToolCall), apperrors.HasCode(err, apperrors.CodeInvalidQuery):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// RecordToolCall records one dispatched tool call.
func RecordToolCall(tool, outcome string, d time.Duration) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordModelCall records one model completion.
func RecordModelCall(turn string, d time.Duration, err error) {
	modelCallsTotal.WithLabelValues(turn, OutcomeOf(err)).Inc()
	modelCallDuration.WithLabelValues(turn).Observe(d.Seconds())
}

// RecordRebuild records the outcome of one component of a rebuild.
func RecordRebuild(component string, err error) {
	rebuildsTotal.WithLabelValues(component, OutcomeOf(err)).Inc()
}

// SetActive publishes the generation and tool count of the live snapshot.
func SetActive(generation uint64, tools int) {
	activeGeneration.Set(float64(generation))
	activeTools.Set(float64(tools))
}
