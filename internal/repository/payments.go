package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmoiron/sqlx"
)

// PaymentFilter narrows a listing; zero fields match everything.
type PaymentFilter struct {
	OrderID string
	Status  model.PaymentStatus
	Limit   int
	Offset  int
}

type PaymentsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, p model.Payment) error
	// GetByID returns nil, nil when the payment does not exist.
	GetByID(ctx context.Context, id string) (*model.Payment, error)
	// GetForUpdate locks the row until tx ends; nil, nil when absent.
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Payment, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, status model.PaymentStatus, updatedAt time.Time) error
	// MarkProcessing stores the bank session and moves INITIATED to PROCESSING.
	// A payment that already moved on keeps its status.
	MarkProcessing(ctx context.Context, tx *sqlx.Tx, id, sessionID string, updatedAt time.Time) error
	List(ctx context.Context, f PaymentFilter) ([]model.Payment, error)
}

type PaymentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewPaymentsRepository(db *sqlx.DB) *PaymentsRepositoryImpl {
	return &PaymentsRepositoryImpl{db: db}
}

var _ PaymentsRepository = (*PaymentsRepositoryImpl)(nil)

const paymentColumns = `id, order_id, user_id, amount, currency, status, provider, provider_session_id, created_at, updated_at`

func (r *PaymentsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, p model.Payment) error {
	const q = `
		INSERT INTO payments
		    (id, order_id, user_id, amount, currency, status, provider, provider_session_id, created_at, updated_at)
		VALUES
		    (?,  ?,        ?,       ?,      ?,        ?,      ?,        ?,                   ?,          ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			p.ID, p.OrderID, p.UserID, p.Amount.String(), p.Currency, p.Status.String(),
			p.Provider, p.ProviderSessionID, p.CreatedAt, p.UpdatedAt,
		)
		return err
	})
}

func (r *PaymentsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	var p model.Payment
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentsRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Payment, error) {
	if tx == nil {
		return nil, errors.New("payments: GetForUpdate needs a transaction")
	}
	var p model.Payment
	err := tx.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentsRepositoryImpl) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, status model.PaymentStatus, updatedAt time.Time) error {
	const q = `UPDATE payments SET status = ?, updated_at = ? WHERE id = ?`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, status.String(), updatedAt, id)
		return err
	})
}

func (r *PaymentsRepositoryImpl) MarkProcessing(ctx context.Context, tx *sqlx.Tx, id, sessionID string, updatedAt time.Time) error {
	const q = `
		UPDATE payments
		   SET provider_session_id = ?,
		       status = CASE WHEN status = 'INITIATED' THEN 'PROCESSING' ELSE status END,
		       updated_at = ?
		 WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, sessionID, updatedAt, id)
		return err
	})
}

func (r *PaymentsRepositoryImpl) List(ctx context.Context, f PaymentFilter) ([]model.Payment, error) {
	limit, offset := normalizePage(f.Limit, f.Offset)

	q := `SELECT ` + paymentColumns + ` FROM payments WHERE 1 = 1`
	var args []any

	if f.OrderID != "" {
		q += " AND order_id = ?"
		args = append(args, f.OrderID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}

	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows := []model.Payment{}
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// normalizePage falls back to 50 for a limit outside 1..1000.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
