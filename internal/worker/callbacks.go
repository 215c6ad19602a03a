package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/payment-service/internal/kafka"
	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/metrics"
	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/service/payment"
	"go.uber.org/zap"
)

// MessageSource is the part of the Kafka consumer the callback worker needs.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb model.BankCallback) (model.Payment, error)
}

// CallbackConsumer:
// - fetches bank callbacks from Kafka one at a time,
// - applies each through the payment saga, retrying transient failures,
// - commits the offset once the callback is applied or can never apply.
//
// Delivery is at-least-once; a redelivered callback is a no-op in the saga.
type CallbackConsumer struct {
	Source  MessageSource
	Handler CallbackHandler

	// NewBackOff builds the retry schedule for one message.
	NewBackOff func() backoff.BackOff
	Log        *zap.Logger

	validate *validator.Validate
}

func NewCallbackConsumer(src MessageSource, h CallbackHandler) *CallbackConsumer {
	return &CallbackConsumer{
		Source:  src,
		Handler: h,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0 // until the context ends
			return b
		},
		Log:      logger.Named("callbacks"),
		validate: validator.New(),
	}
}

// Run consumes until ctx is cancelled.
func (c *CallbackConsumer) Run(ctx context.Context) error {
	if c.validate == nil {
		c.validate = validator.New()
	}
	if c.Log == nil {
		c.Log = logger.Named("callbacks")
	}

	for {
		m, err := c.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Log.Error("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		if err := c.process(ctx, m); err != nil {
			// only a cancelled retry ends up here; leave the offset for redelivery
			return nil
		}

		if err := c.Source.Commit(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Log.Error("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// process returns an error only when ctx ended before the callback could be
// applied.
func (c *CallbackConsumer) process(ctx context.Context, m kafka.Message) error {
	var cb model.BankCallback
	if err := json.Unmarshal(m.Value, &cb); err != nil {
		metrics.CallbacksTotal.WithLabelValues("invalid").Inc()
		c.Log.Warn("bad callback json", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if err := c.validate.Struct(cb); err != nil {
		metrics.CallbacksTotal.WithLabelValues("invalid").Inc()
		c.Log.Warn("callback missing fields", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	log := c.Log.With(zap.String("payment_id", cb.PaymentID), zap.String("status", cb.Status))

	op := func() error {
		_, err := c.Handler.HandleCallback(ctx, cb)
		if err == nil {
			return nil
		}
		if errors.Is(err, payment.ErrPaymentNotFound) || errors.Is(err, payment.ErrTerminalConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("callback failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.NewBackOff(), ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// permanent: commit and skip
	log.Warn("callback dropped", zap.Error(err))
	return nil
}
