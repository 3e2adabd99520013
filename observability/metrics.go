package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	graderMetricsOnce sync.Once
	graderRegistry    *GraderMetrics
)

// LedgerMetrics instruments transaction submission and confirmation.
type LedgerMetrics struct {
	Submitted      prometheus.Counter
	Confirmed      prometheus.Counter
	Failed         prometheus.Counter
	Timeouts       prometheus.Counter
	ConfirmLatency prometheus.Histogram
}

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			Submitted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oguogu",
				Subsystem: "ledger",
				Name:      "transactions_submitted_total",
				Help:      "Total transactions submitted to the ledger.",
			}),
			Confirmed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oguogu",
				Subsystem: "ledger",
				Name:      "transactions_confirmed_total",
				Help:      "Total transactions confirmed with success status.",
			}),
			Failed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oguogu",
				Subsystem: "ledger",
				Name:      "transactions_failed_total",
				Help:      "Total transactions confirmed with revert status.",
			}),
			Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oguogu",
				Subsystem: "ledger",
				Name:      "confirmation_timeouts_total",
				Help:      "Total receipt polls abandoned after the confirmation deadline.",
			}),
			ConfirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "oguogu",
				Subsystem: "ledger",
				Name:      "confirmation_duration_seconds",
				Help:      "Latency distribution from submission to confirmed receipt.",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.Submitted,
			ledgerRegistry.Confirmed,
			ledgerRegistry.Failed,
			ledgerRegistry.Timeouts,
			ledgerRegistry.ConfirmLatency,
		)
	})
	return ledgerRegistry
}

// GraderMetrics instruments evidence grading outcomes.
type GraderMetrics struct {
	Accepted prometheus.Counter
	Rejected prometheus.Counter
	Errors   prometheus.Counter
}

// Grader returns the lazily-initialised grader metrics registry.
func Grader() *GraderMetrics {
	graderMetricsOnce.Do(func() {
		graderRegistry = &GraderMetrics{
			Accepted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oguogu",
				Subsystem: "grader",
				Name:      "evidence_accepted_total",
				Help:      "Total evidence submissions the grader accepted.",
			}),
			Rejected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oguogu",
				Subsystem: "grader",
				Name:      "evidence_rejected_total",
				Help:      "Total evidence submissions the grader rejected.",
			}),
			Errors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oguogu",
				Subsystem: "grader",
				Name:      "errors_total",
				Help:      "Total grading attempts that failed with a service error.",
			}),
		}
		prometheus.MustRegister(
			graderRegistry.Accepted,
			graderRegistry.Rejected,
			graderRegistry.Errors,
		)
	})
	return graderRegistry
}
