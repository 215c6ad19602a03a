package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_outbox_events_total",
			Help: "Outbox events lifecycle counter by stage and target",
		},
		[]string{"stage", "target"}, // enqueued|claimed|claim_lost|sent|failed|exhausted , ADMIN|NOTIFICATION
	)

	OutboxReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_outbox_reclaimed_total",
			Help: "Stale PROCESSING outbox rows returned to FAILED",
		},
	)

	OutboxDispatchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_outbox_dispatch_seconds",
			Help:    "Latency of one outbox dispatch attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	PaymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_transitions_total",
			Help: "Payment status transitions",
		},
		[]string{"status"},
	)

	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_callbacks_total",
			Help: "Bank callbacks by result",
		},
		[]string{"result"}, // applied|duplicate|conflict|not_found|invalid|error
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxEventsTotal,
		OutboxReclaimedTotal,
		OutboxDispatchSeconds,
		PaymentTransitionsTotal,
		CallbacksTotal,
	)
}
