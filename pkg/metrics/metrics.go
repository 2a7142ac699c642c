// Package metrics defines the Prometheus collectors for paid requests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Settlement metrics
	CreditsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentpay_credits_settled_total",
			Help: "Credits redeemed against the ledger",
		},
		[]string{"binding"},
	)

	SettlementFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentpay_settlement_failures_total",
			Help: "Redemptions that failed after the work was delivered",
		},
		[]string{"binding"},
	)

	PaymentRequired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentpay_payment_required_total",
			Help: "Requests rejected for a missing or invalid payment proof",
		},
		[]string{"binding", "reason"},
	)

	// Execution metrics
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentpay_pipeline_duration_seconds",
			Help:    "Task pipeline execution time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"binding", "status"},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentpay_tasks_total",
			Help: "Streamed tasks by terminal state",
		},
		[]string{"state"},
	)

	// Buyer metrics
	BudgetDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentpay_budget_denials_total",
			Help: "Purchases refused by the local budget",
		},
	)

	Purchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentpay_purchases_total",
			Help: "Buyer purchases by binding and outcome",
		},
		[]string{"binding", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
