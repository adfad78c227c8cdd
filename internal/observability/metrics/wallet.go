package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomeOK labels turns and transfers that completed without error.
const OutcomeOK = "ok"

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpilot_turns_total",
			Help: "Chat turns by classified operation and outcome code.",
		},
		[]string{"operation", "outcome"},
	)

	turnsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletpilot_turns_in_flight",
			Help: "Chat turns currently being processed.",
		},
	)

	classifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletpilot_classifier_duration_seconds",
			Help:    "Latency of classifier calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"purpose"},
	)

	classifierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpilot_classifier_failures_total",
			Help: "Classifier calls that failed, by purpose and error code.",
		},
		[]string{"purpose", "code"},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpilot_transfers_total",
			Help: "Transfers submitted to the wallet, by operation and outcome code.",
		},
		[]string{"operation", "outcome"},
	)
)

// TurnStarted marks a turn as in flight and returns the function that ends it.
func TurnStarted() func() {
	turnsInFlight.Inc()
	return turnsInFlight.Dec
}

// ObserveTurn counts one finished turn. An empty outcome means success.
func ObserveTurn(operation, outcome string) {
	turnsTotal.WithLabelValues(operation, outcomeLabel(outcome)).Inc()
}

// ObserveClassifier records one classifier call. purpose is "classify" or "explain".
func ObserveClassifier(purpose string, duration time.Duration, failureCode string) {
	classifierDuration.WithLabelValues(purpose).Observe(duration.Seconds())
	if failureCode != "" {
		classifierFailures.WithLabelValues(purpose, failureCode).Inc()
	}
}

// ObserveTransfer counts one transfer attempt.
func ObserveTransfer(operation, outcome string) {
	transfersTotal.WithLabelValues(operation, outcomeLabel(outcome)).Inc()
}

func outcomeLabel(outcome string) string {
	if outcome == "" {
		return OutcomeOK
	}
	return outcome
}
