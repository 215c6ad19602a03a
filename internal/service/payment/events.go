package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/util"
	"github.com/jmoiron/sqlx"
)

// enqueued collects the targets that actually got a new outbox row during
// one transaction, so metrics are only counted after commit.
type enqueued []model.OutboxTarget

// enqueue freezes event into a payload and stores it for target. A payload
// that cannot be serialized fails the surrounding transaction.
func (s *Service) enqueue(
	ctx context.Context,
	tx *sqlx.Tx,
	p model.Payment,
	target model.OutboxTarget,
	eventType string,
	event any,
	at time.Time,
	done *enqueued,
) error {
	payload, err := s.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	inserted, err := s.outbox.InsertIfAbsent(ctx, tx, model.OutboxEvent{
		ID:        util.NewAt(at),
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Target:    target,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: at,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", target, eventType, err)
	}
	if inserted {
		*done = append(*done, target)
	}
	return nil
}

func adminEventType(status model.PaymentStatus) string {
	if status == model.PaymentPaid {
		return model.EventPaymentSuccess
	}
	return model.EventPaymentFailed
}

func notificationMessage(status model.PaymentStatus, reason string) string {
	if reason != "" {
		return reason
	}
	if status == model.PaymentPaid {
		return "Payment successful"
	}
	return "Payment failed"
}
