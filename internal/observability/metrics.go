package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for rate limit decisions
var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratewall_decisions_total",
			Help: "Total number of rate limit decisions by outcome",
		},
		[]string{"outcome"},
	)

	checkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratewall_check_errors_total",
			Help: "Total number of rate limit checks that failed with a store error",
		},
	)
)

// Decision outcomes recorded in metrics.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
)

// RecordDecision counts one rate limit decision.
func RecordDecision(outcome string) {
	decisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCheckError counts one failed rate limit check.
func RecordCheckError() {
	checkErrorsTotal.Inc()
}

// MetricsHandler returns the HTTP handler exposing prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
