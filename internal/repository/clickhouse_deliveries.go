package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHDeliveriesRepository stores outbox delivery attempts in ClickHouse.
type CHDeliveriesRepository interface {
	InsertBatch(ctx context.Context, rows []model.DeliveryAttempt) error
	ListByPayment(ctx context.Context, paymentID string, limit, offset int) ([]model.DeliveryAttempt, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

// InsertBatch sends rows as one ClickHouse block: the std driver buffers a
// prepared INSERT inside a tx and flushes it on commit.
func (r *chDeliveriesRepository) InsertBatch(ctx context.Context, rows []model.DeliveryAttempt) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO payments.outbox_deliveries
		    (event_id, payment_id, target, event_type, attempt, outcome, error, latency_ms, attempted_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare deliveries batch: %w", err)
	}
	defer stmt.Close()

	for _, d := range rows {
		if _, err := stmt.ExecContext(ctx,
			d.EventID, d.PaymentID, d.Target.String(), d.EventType, d.Attempt,
			string(d.Outcome), d.Error, d.LatencyMs, d.AttemptedAt,
		); err != nil {
			return fmt.Errorf("append delivery %s: %w", d.EventID, err)
		}
	}

	return tx.Commit()
}

func (r *chDeliveriesRepository) ListByPayment(ctx context.Context, paymentID string, limit, offset int) ([]model.DeliveryAttempt, error) {
	limit, offset = normalizePage(limit, offset)

	const q = `
		SELECT event_id, payment_id, target, event_type, attempt, outcome, error, latency_ms, attempted_at
		FROM payments.outbox_deliveries
		WHERE payment_id = ?
		ORDER BY attempted_at DESC LIMIT ? OFFSET ?
	`
	rows := []model.DeliveryAttempt{}
	if err := r.ch.SelectContext(ctx, &rows, q, paymentID, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
