package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/payment-service/internal/client"
	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/metrics"
	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/jmehdipour/payment-service/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type OrderClient interface {
	GetOrder(ctx context.Context, id string) (model.OrderSnapshot, error)
	UpdateStatus(ctx context.Context, id string, u model.OrderStatusUpdate) error
}

type BankClient interface {
	InitiatePayment(ctx context.Context, req model.BankPaymentRequest) (model.BankPaymentResponse, error)
}

// ConflictPolicy decides what a callback reporting the other terminal status does.
type ConflictPolicy string

const (
	PolicyReject        ConflictPolicy = "reject"
	PolicyLastWriteWins ConflictPolicy = "last_write_wins"
)

type Options struct {
	CallbackURL    string
	ConflictPolicy ConflictPolicy
}

type InitiateRequest struct {
	OrderID       string `json:"orderId"       validate:"required"`
	PaymentMethod string `json:"paymentMethod" validate:"required"`
}

// Service runs the payment state machine. Every transition writes the payment
// row and its outbox events in one transaction; remote calls happen only
// after that transaction committed.
type Service struct {
	tx       repository.TxRunner
	payments repository.PaymentsRepository
	outbox   repository.OutboxRepository
	orders   OrderClient
	bank     BankClient

	callbackURL string
	policy      ConflictPolicy

	now     func() time.Time
	marshal func(any) ([]byte, error)
	log     *zap.Logger
}

// New constructs the payment service.
func New(
	tx repository.TxRunner,
	paymentsRepo repository.PaymentsRepository,
	outboxRepo repository.OutboxRepository,
	orders OrderClient,
	bank BankClient,
	opts Options,
) *Service {
	policy := opts.ConflictPolicy
	if policy == "" {
		policy = PolicyReject
	}
	return &Service{
		tx:          tx,
		payments:    paymentsRepo,
		outbox:      outboxRepo,
		orders:      orders,
		bank:        bank,
		callbackURL: opts.CallbackURL,
		policy:      policy,
		now:         time.Now,
		marshal:     json.Marshal,
		log:         logger.Named("payment"),
	}
}

// Initiate starts paying for a CREATED order: the payment and its
// PAYMENT_INITIATED admin event are stored together, then the bank is asked
// to open a session.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (model.PaymentSession, error) {
	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return model.PaymentSession{}, ErrOrderNotFound
		}
		return model.PaymentSession{}, fmt.Errorf("%w: %v", ErrOrderServiceUnavailable, err)
	}
	if order.Status != model.OrderCreated {
		return model.PaymentSession{}, ErrOrderAlreadyProcessed
	}

	now := s.now().UTC()
	p := model.Payment{
		ID:        util.NewAt(now),
		OrderID:   req.OrderID,
		UserID:    order.UserID,
		Amount:    order.Total,
		Currency:  order.Currency,
		Status:    model.PaymentInitiated,
		Provider:  req.PaymentMethod,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var done enqueued
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.payments.Insert(ctx, tx, p); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		return s.enqueue(ctx, tx, p, model.TargetAdmin, model.EventPaymentInitiated, model.AdminEvent{
			Type:      model.EventPaymentInitiated,
			OrderID:   p.OrderID,
			Timestamp: now,
		}, now, &done)
	})
	if err != nil {
		return model.PaymentSession{}, err
	}
	s.committed(model.PaymentInitiated, done)

	res, err := s.bank.InitiatePayment(ctx, model.BankPaymentRequest{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		s.log.Warn("bank initiation failed", zap.String("payment_id", p.ID), zap.Error(err))
		return model.PaymentSession{}, fmt.Errorf("%w: %v", ErrBankUnavailable, err)
	}

	if err := s.payments.MarkProcessing(ctx, nil, p.ID, res.SessionID, s.now().UTC()); err != nil {
		return model.PaymentSession{}, fmt.Errorf("store bank session: %w", err)
	}
	metrics.PaymentTransitionsTotal.WithLabelValues(model.PaymentProcessing.String()).Inc()

	return model.PaymentSession{
		PaymentID:   p.ID,
		Status:      model.PaymentProcessing,
		RedirectURL: res.RedirectURL,
	}, nil
}

// HandleCallback settles a payment from the bank's report. Repeating the
// current terminal status is a no-op returning the stored payment.
func (s *Service) HandleCallback(ctx context.Context, cb model.BankCallback) (model.Payment, error) {
	status := model.CallbackStatus(cb.Status)

	var (
		updated model.Payment
		changed bool
		done    enqueued
	)
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		p, err := s.payments.GetForUpdate(ctx, tx, cb.PaymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if p == nil {
			return ErrPaymentNotFound
		}
		if p.Status == status {
			updated = *p
			return nil
		}
		if p.Status.Terminal() && s.policy == PolicyReject {
			return fmt.Errorf("%w: payment %s is %s, callback reports %s", ErrTerminalConflict, p.ID, p.Status, status)
		}

		now := s.now().UTC()
		if err := s.payments.UpdateStatus(ctx, tx, p.ID, status, now); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		p.Status = status
		p.UpdatedAt = now

		notification := model.NotificationEvent{
			UserID:  p.UserID,
			Type:    "PAYMENT_" + status.String(),
			Message: notificationMessage(status, cb.Reason),
			Payload: model.NotificationPayload{
				PaymentID: p.ID,
				OrderID:   p.OrderID,
				Status:    status,
			},
			Timestamp: now,
		}
		if err := s.enqueue(ctx, tx, *p, model.TargetNotification, notification.Type, notification, now, &done); err != nil {
			return err
		}

		admin := model.AdminEvent{Type: adminEventType(status), OrderID: p.OrderID, Timestamp: now}
		if err := s.enqueue(ctx, tx, *p, model.TargetAdmin, admin.Type, admin, now, &done); err != nil {
			return err
		}

		updated = *p
		changed = true
		return nil
	})
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(callbackResult(err)).Inc()
		return model.Payment{}, err
	}
	if !changed {
		metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
		return updated, nil
	}
	metrics.CallbacksTotal.WithLabelValues("applied").Inc()
	s.committed(status, done)

	// The payment is settled either way; a failed patch leaves the order for
	// the order service to reconcile.
	err = s.orders.UpdateStatus(ctx, updated.OrderID, model.OrderStatusUpdate{
		Status: model.OrderStatusFor(status),
		Reason: cb.Reason,
	})
	if err != nil {
		s.log.Error("order status patch failed",
			zap.String("payment_id", updated.ID),
			zap.String("order_id", updated.OrderID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}

	return updated, nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (model.Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return model.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	if p == nil {
		return model.Payment{}, ErrPaymentNotFound
	}
	return *p, nil
}

// ListPayments filters by order and status (both optional), newest first.
func (s *Service) ListPayments(ctx context.Context, f repository.PaymentFilter) ([]model.Payment, error) {
	ps, err := s.payments.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return ps, nil
}

// PaymentEvents returns the outbox rows of a payment with their delivery state.
func (s *Service) PaymentEvents(ctx context.Context, id string) ([]model.OutboxEvent, error) {
	if _, err := s.GetPayment(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.outbox.ListByPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}
	return events, nil
}

func (s *Service) committed(status model.PaymentStatus, done enqueued) {
	metrics.PaymentTransitionsTotal.WithLabelValues(status.String()).Inc()
	for _, t := range done {
		metrics.OutboxEventsTotal.WithLabelValues("enqueued", t.String()).Inc()
	}
}

func callbackResult(err error) string {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return "not_found"
	case errors.Is(err, ErrTerminalConflict):
		return "conflict"
	default:
		return "error"
	}
}
