package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payroll_payments_initiated_total",
		Help: "Push payments accepted by the gateway",
	})

	attemptsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_attempts_resolved_total",
		Help: "Payment attempts reaching a terminal state, by outcome",
	}, []string{"outcome"})

	duplicateConfirmations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payroll_duplicate_confirmations_total",
		Help: "Replayed confirmations dropped by the correlation-id guard",
	})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payroll_settlement_poll_duration_seconds",
		Help:    "Time from prompt to terminal state",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})
)
