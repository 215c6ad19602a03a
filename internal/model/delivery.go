package model

import "time"

type DeliveryOutcome string

const (
	DeliverySent   DeliveryOutcome = "sent"
	DeliveryFailed DeliveryOutcome = "failed"
)

// DeliveryAttempt is one dispatch of an outbox event, kept in ClickHouse.
type DeliveryAttempt struct {
	EventID     string          `db:"event_id"     json:"eventId"`
	PaymentID   string          `db:"payment_id"   json:"paymentId"`
	Target      OutboxTarget    `db:"target"       json:"target"`
	EventType   string          `db:"event_type"   json:"eventType"`
	Attempt     uint32          `db:"attempt"      json:"attempt"`
	Outcome     DeliveryOutcome `db:"outcome"      json:"outcome"`
	Error       string          `db:"error"        json:"error,omitempty"`
	LatencyMs   uint32          `db:"latency_ms"   json:"latencyMs"`
	AttemptedAt time.Time       `db:"attempted_at" json:"attemptedAt"`
}
