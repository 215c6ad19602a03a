package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence methods for the payment_outbox table.
type OutboxRepository interface {
	// InsertIfAbsent writes an event unless one with the same
	// (payment_id, event_type, target) exists. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	InsertIfAbsent(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) (bool, error)
	FindReady(ctx context.Context, limit, maxAttempts int, now time.Time) ([]model.OutboxEvent, error)
	// Claim moves a due PENDING/FAILED row to PROCESSING. Exactly one of any
	// number of concurrent callers gets true.
	Claim(ctx context.Context, id string, now, nextAttemptAt time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time) error
	// ReclaimStale returns rows stuck in PROCESSING since before claimedBefore to FAILED.
	ReclaimStale(ctx context.Context, claimedBefore time.Time, limit int) (int64, error)
	ListByPayment(ctx context.Context, paymentID string) ([]model.OutboxEvent, error)
	ListExhausted(ctx context.Context, maxAttempts, limit, offset int) ([]model.OutboxEvent, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

const outboxColumns = `id, payment_id, order_id, target, event_type, payload, status, attempts,
	next_attempt_at, last_attempt_at, sent_at, created_at`

// InsertIfAbsent relies on uq_outbox_payment_event_target; the no-op update
// reports 0 affected rows for a duplicate.
func (r *OutboxRepositoryImpl) InsertIfAbsent(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) (bool, error) {
	const q = `
		INSERT INTO payment_outbox
		    (id, payment_id, order_id, target, event_type, payload, status, attempts, next_attempt_at, created_at)
		VALUES
		    (?,  ?,          ?,        ?,      ?,          ?,       'PENDING', 0,     ?,               ?)
		ON DUPLICATE KEY UPDATE id = id
	`
	var inserted bool
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			e.ID, e.PaymentID, e.OrderID, e.Target.String(), e.EventType, e.Payload,
			e.CreatedAt, e.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}

func (r *OutboxRepositoryImpl) FindReady(ctx context.Context, limit, maxAttempts int, now time.Time) ([]model.OutboxEvent, error) {
	q := `
		SELECT ` + outboxColumns + `
		  FROM payment_outbox
		 WHERE status IN ('PENDING', 'FAILED')
		   AND attempts < ?
		   AND next_attempt_at <= ?
		 ORDER BY created_at ASC
		 LIMIT ?
	`
	rows := []model.OutboxEvent{}
	if err := r.db.SelectContext(ctx, &rows, q, maxAttempts, now, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) Claim(ctx context.Context, id string, now, nextAttemptAt time.Time) (bool, error) {
	const q = `
		UPDATE payment_outbox
		   SET status = 'PROCESSING',
		       attempts = attempts + 1,
		       last_attempt_at = ?,
		       next_attempt_at = ?
		 WHERE id = ?
		   AND status IN ('PENDING', 'FAILED')
		   AND next_attempt_at <= ?
	`
	res, err := r.db.ExecContext(ctx, q, now, nextAttemptAt, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	const q = `UPDATE payment_outbox SET status = 'SENT', sent_at = ? WHERE id = ? AND status = 'PROCESSING'`
	_, err := r.db.ExecContext(ctx, q, sentAt, id)
	return err
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time) error {
	const q = `UPDATE payment_outbox SET status = 'FAILED', next_attempt_at = ? WHERE id = ? AND status = 'PROCESSING'`
	_, err := r.db.ExecContext(ctx, q, nextAttemptAt, id)
	return err
}

func (r *OutboxRepositoryImpl) ReclaimStale(ctx context.Context, claimedBefore time.Time, limit int) (int64, error) {
	const q = `
		UPDATE payment_outbox
		   SET status = 'FAILED'
		 WHERE status = 'PROCESSING'
		   AND last_attempt_at < ?
		 ORDER BY last_attempt_at
		 LIMIT ?
	`
	res, err := r.db.ExecContext(ctx, q, claimedBefore, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *OutboxRepositoryImpl) ListByPayment(ctx context.Context, paymentID string) ([]model.OutboxEvent, error) {
	q := `SELECT ` + outboxColumns + ` FROM payment_outbox WHERE payment_id = ? ORDER BY created_at ASC, id ASC`
	rows := []model.OutboxEvent{}
	if err := r.db.SelectContext(ctx, &rows, q, paymentID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) ListExhausted(ctx context.Context, maxAttempts, limit, offset int) ([]model.OutboxEvent, error) {
	limit, offset = normalizePage(limit, offset)
	q := `
		SELECT ` + outboxColumns + `
		  FROM payment_outbox
		 WHERE status = 'FAILED'
		   AND attempts >= ?
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?
	`
	rows := []model.OutboxEvent{}
	if err := r.db.SelectContext(ctx, &rows, q, maxAttempts, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
