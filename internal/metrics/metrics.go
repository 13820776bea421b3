// Package metrics holds the Prometheus instrumentation of chat turns.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "avika"

// Responder fallback reasons.
const (
	FallbackDisabled = "disabled"
	FallbackError    = "error"
)

var (
	// turnsTotal counts processed turns.
	// Labels: stage, action_type
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "turns_total",
		Help:      "Processed chat turns by resulting stage and action type",
	}, []string{"stage", "action_type"})

	// riskLevels counts detector outcomes.
	// Labels: risk_level (low, medium, high)
	riskLevels = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "safety",
		Name:      "risk_levels_total",
		Help:      "Safety detector outcomes by risk level",
	}, []string{"risk_level"})

	crisisTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "safety",
		Name:      "crisis_interventions_total",
		Help:      "Turns answered with the crisis directive",
	})

	// responderFallbacks counts stage fallbacks used instead of the responder.
	// Labels: reason (disabled, error)
	responderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "responder",
		Name:      "fallbacks_total",
		Help:      "Static fallbacks served instead of a generated response",
	}, []string{"reason"})

	// turnDuration measures HandleTurn latency.
	// Labels: outcome (ok, crisis, replayed, error)
	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "turn_duration_seconds",
		Help:      "Turn handling latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	duplicateTurns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "duplicate_turns_total",
		Help:      "Turns replayed because their message ID was already processed",
	})

	versionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "version_conflicts_total",
		Help:      "Optimistic state writes that lost a race and were retried",
	})

	// wellnessRequests counts wellness actions.
	// Labels: action
	wellnessRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wellness",
		Name:      "requests_total",
		Help:      "Wellness action requests by action",
	}, []string{"action"})
)

// RecordTurn counts one processed turn.
func RecordTurn(stage, actionType string) {
	turnsTotal.WithLabelValues(stage, actionType).Inc()
}

// RecordRiskLevel counts one detector outcome.
func RecordRiskLevel(level string) {
	riskLevels.WithLabelValues(level).Inc()
}

// RecordCrisis counts one crisis intervention.
func RecordCrisis() {
	crisisTotal.Inc()
}

// RecordResponderFallback counts one static fallback.
func RecordResponderFallback(reason string) {
	responderFallbacks.WithLabelValues(reason).Inc()
}

// ObserveTurnDuration records HandleTurn latency.
func ObserveTurnDuration(outcome string, seconds float64) {
	turnDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordDuplicateTurn counts one replayed turn.
func RecordDuplicateTurn() {
	duplicateTurns.Inc()
}

// RecordVersionConflict counts one lost optimistic write.
func RecordVersionConflict() {
	versionConflicts.Inc()
}

// RecordWellnessRequest counts one wellness action.
func RecordWellnessRequest(action string) {
	wellnessRequests.WithLabelValues(action).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
