package model

import (
	"encoding/json"
	"time"
)

type OutboxTarget string

const (
	TargetAdmin        OutboxTarget = "ADMIN"
	TargetNotification OutboxTarget = "NOTIFICATION"
)

func (t OutboxTarget) String() string { return string(t) }

func (t OutboxTarget) Valid() bool {
	return t == TargetAdmin || t == TargetNotification
}

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxFailed     OutboxStatus = "FAILED"
	OutboxSent       OutboxStatus = "SENT"
)

func (s OutboxStatus) String() string { return string(s) }

// Event types written to the outbox.
const (
	EventPaymentInitiated = "PAYMENT_INITIATED"
	EventPaymentSuccess   = "PAYMENT_SUCCESS"
	EventPaymentPaid      = "PAYMENT_PAID"
	EventPaymentFailed    = "PAYMENT_FAILED"
)

// OutboxEvent is one delivery of a frozen payload to one target.
// (payment_id, event_type, target) is unique.
type OutboxEvent struct {
	ID            string       `db:"id"              json:"id"`
	PaymentID     string       `db:"payment_id"      json:"paymentId"`
	OrderID       string       `db:"order_id"        json:"orderId"`
	Target        OutboxTarget `db:"target"          json:"target"`
	EventType     string       `db:"event_type"      json:"eventType"`
	Payload       []byte       `db:"payload"         json:"-"`
	Status        OutboxStatus `db:"status"          json:"status"`
	Attempts      int          `db:"attempts"        json:"attempts"`
	NextAttemptAt time.Time    `db:"next_attempt_at" json:"nextAttemptAt"`
	LastAttemptAt *time.Time   `db:"last_attempt_at" json:"lastAttemptAt,omitempty"`
	SentAt        *time.Time   `db:"sent_at"         json:"sentAt,omitempty"`
	CreatedAt     time.Time    `db:"created_at"      json:"createdAt"`
}

// MarshalJSON exposes the payload as embedded JSON rather than base64.
func (e OutboxEvent) MarshalJSON() ([]byte, error) {
	type alias OutboxEvent
	var payload json.RawMessage
	if json.Valid(e.Payload) {
		payload = e.Payload
	}
	return json.Marshal(struct {
		alias
		Payload json.RawMessage `json:"payload,omitempty"`
	}{alias: alias(e), Payload: payload})
}
