package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mobile_money"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Outbound provider API calls by outcome.",
	}, []string{"provider", "operation", "outcome"})

	providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_call_duration_seconds",
		Help:      "Provider API latency including retries.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "operation"})

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transaction_transitions_total",
		Help:      "Committed transaction state transitions.",
	}, []string{"provider", "from", "to", "source"})

	fraudScores = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fraud_risk_score",
		Help:      "Distribution of fraud risk scores.",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	}, []string{"recommendation"})

	complianceResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compliance_checks_total",
		Help:      "Compliance gate outcomes by country.",
	}, []string{"country", "status"})

	webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhooks_total",
		Help:      "Inbound provider callbacks by result.",
	}, []string{"provider", "result"})
)

func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func ObserveProviderCall(provider, operation string, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	providerCalls.WithLabelValues(provider, operation, outcome).Inc()
	providerDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// ObserveTransition counts a committed transition. source is the event that
// drove it: dispatch, webhook, verify, sweeper or refund.
func ObserveTransition(provider, from, to, source string) {
	transitions.WithLabelValues(provider, from, to, source).Inc()
}

func ObserveFraudScore(recommendation string, score int) {
	fraudScores.WithLabelValues(recommendation).Observe(float64(score))
}

func ObserveCompliance(country, status string) {
	complianceResults.WithLabelValues(country, status).Inc()
}

func ObserveWebhook(provider, result string) {
	webhooks.WithLabelValues(provider, result).Inc()
}
