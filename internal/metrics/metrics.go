package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ledgerCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Duration of submit-and-confirm calls and queries against the ledger network.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"op", "outcome"},
	)

	provisionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "provision_attempts_total",
			Help:      "Account provisioning attempts by outcome.",
		},
		[]string{"outcome"},
	)

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "transfers_total",
			Help:      "Reward token transfers by outcome.",
		},
		[]string{"outcome"},
	)

	pointsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "points",
			Name:      "issued_total",
			Help:      "Points credited to recipients.",
		},
	)

	operatorBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rewards",
			Subsystem: "operator",
			Name:      "token_balance",
			Help:      "Last observed reward token balance of the operator account.",
		},
	)
)

func init() {
	Registry.MustRegister(
		ledgerCalls,
		provisionAttempts,
		transfers,
		pointsIssued,
		operatorBalance,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveLedgerCall records the latency of one ledger round trip.
func ObserveLedgerCall(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ledgerCalls.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// RecordProvisionAttempt counts a provisioning attempt ("succeeded", "retried", "exhausted").
func RecordProvisionAttempt(outcome string) {
	provisionAttempts.WithLabelValues(outcome).Inc()
}

// RecordTransfer counts a transfer ("confirmed", "placeholder_id", "rejected").
func RecordTransfer(outcome string, amount int64) {
	transfers.WithLabelValues(outcome).Inc()
	if outcome != "rejected" && amount > 0 {
		pointsIssued.Add(float64(amount))
	}
}

// SetOperatorBalance publishes the operator's token balance.
func SetOperatorBalance(v int64) {
	operatorBalance.Set(float64(v))
}
