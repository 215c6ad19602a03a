//go:build integration

package repository_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/payment-service/internal/db"
	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
)

// setupMySQL starts a disposable MySQL, applies the embedded migrations and
// returns a connected pool.
func setupMySQL(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("payments"),
		tcmysql.WithUsername("payments"),
		tcmysql.WithPassword("payments"),
	)
	require.NoError(t, err, "failed to start MySQL container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("warning: failed to terminate MySQL container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	version, err := db.MigrateMySQL(dsn, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, version)

	conn, err := db.NewMySQLConnection(dsn, db.PoolOpts{MaxOpenConns: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func event(id, paymentID, eventType string, target model.OutboxTarget, createdAt time.Time) model.OutboxEvent {
	return model.OutboxEvent{
		ID:        id,
		PaymentID: paymentID,
		OrderID:   "order-1",
		Target:    target,
		EventType: eventType,
		Payload:   []byte(`{"type":"` + eventType + `"}`),
		CreatedAt: createdAt,
	}
}

func insert(t *testing.T, conn *sqlx.DB, outbox repository.OutboxRepository, e model.OutboxEvent) bool {
	t.Helper()
	var inserted bool
	err := repository.NewTxRunner(conn).WithinTx(context.Background(), func(tx *sqlx.Tx) error {
		var err error
		inserted, err = outbox.InsertIfAbsent(context.Background(), tx, e)
		return err
	})
	require.NoError(t, err)
	return inserted
}

func TestIntegration_MySQL(t *testing.T) {
	conn := setupMySQL(t)
	ctx := context.Background()
	outbox := repository.NewOutboxRepository(conn)
	payments := repository.NewPaymentsRepository(conn)
	txr := repository.NewTxRunner(conn)

	t.Run("outbox dedup on payment, type and target", func(t *testing.T) {
		assert.True(t, insert(t, conn, outbox, event("d-1", "pay-dedup", model.EventPaymentInitiated, model.TargetAdmin, base)))
		assert.False(t, insert(t, conn, outbox, event("d-2", "pay-dedup", model.EventPaymentInitiated, model.TargetAdmin, base)))
		assert.True(t, insert(t, conn, outbox, event("d-3", "pay-dedup", model.EventPaymentPaid, model.TargetNotification, base)))

		events, err := outbox.ListByPayment(ctx, "pay-dedup")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "d-1", events[0].ID)
		assert.Equal(t, model.OutboxPending, events[0].Status)
		assert.JSONEq(t, `{"type":"PAYMENT_INITIATED"}`, string(events[0].Payload))
	})

	t.Run("exclusive claim", func(t *testing.T) {
		insert(t, conn, outbox, event("c-1", "pay-claim", model.EventPaymentInitiated, model.TargetAdmin, base))
		now := base.Add(time.Second)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := outbox.Claim(ctx, "c-1", now, now.Add(500*time.Millisecond))
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())

		require.NoError(t, outbox.MarkFailed(ctx, "c-1", now.Add(500*time.Millisecond)))

		ok, err := outbox.Claim(ctx, "c-1", now, now.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, ok, "not due yet")

		ok, err = outbox.Claim(ctx, "c-1", now.Add(500*time.Millisecond), now.Add(2*time.Second))
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, outbox.MarkSent(ctx, "c-1", now.Add(time.Second)))

		events, err := outbox.ListByPayment(ctx, "pay-claim")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.OutboxSent, events[0].Status)
		assert.Equal(t, 2, events[0].Attempts)
		require.NotNil(t, events[0].SentAt)

		// marks only touch PROCESSING rows
		require.NoError(t, outbox.MarkFailed(ctx, "c-1", now))
		events, _ = outbox.ListByPayment(ctx, "pay-claim")
		assert.Equal(t, model.OutboxSent, events[0].Status)
	})

	t.Run("find ready ordering and exhaustion", func(t *testing.T) {
		at := base.Add(time.Hour)
		insert(t, conn, outbox, event("r-2", "pay-ready-2", model.EventPaymentInitiated, model.TargetAdmin, at.Add(2*time.Millisecond)))
		insert(t, conn, outbox, event("r-1", "pay-ready-1", model.EventPaymentInitiated, model.TargetAdmin, at.Add(time.Millisecond)))

		ready, err := outbox.FindReady(ctx, 100, 2, at.Add(time.Second))
		require.NoError(t, err)
		ids := make([]string, 0, len(ready))
		for _, e := range ready {
			ids = append(ids, e.ID)
		}
		assert.Subset(t, ids, []string{"r-1", "r-2"})
		assert.Less(t, indexOf(ids, "r-1"), indexOf(ids, "r-2"), "oldest first")

		now := at.Add(time.Second)
		for i := 0; i < 2; i++ {
			ok, err := outbox.Claim(ctx, "r-1", now, now)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, outbox.MarkFailed(ctx, "r-1", now))
		}

		ready, err = outbox.FindReady(ctx, 100, 2, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, -1, indexOf(idsOf(ready), "r-1"), "exhausted rows are not polled")

		dead, err := outbox.ListExhausted(ctx, 2, 10, 0)
		require.NoError(t, err)
		assert.NotEqual(t, -1, indexOf(idsOf(dead), "r-1"))
	})

	t.Run("reclaim stale claims", func(t *testing.T) {
		insert(t, conn, outbox, event("s-1", "pay-stale", model.EventPaymentInitiated, model.TargetAdmin, base))
		claimedAt := base.Add(2 * time.Hour)
		ok, err := outbox.Claim(ctx, "s-1", claimedAt, claimedAt)
		require.NoError(t, err)
		require.True(t, ok)

		n, err := outbox.ReclaimStale(ctx, claimedAt, 100)
		require.NoError(t, err)
		assert.Zero(t, n, "cutoff is exclusive")

		n, err = outbox.ReclaimStale(ctx, claimedAt.Add(time.Minute), 100)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		events, _ := outbox.ListByPayment(ctx, "pay-stale")
		assert.Equal(t, model.OutboxFailed, events[0].Status)
		assert.Equal(t, 1, events[0].Attempts)
	})

	t.Run("payments", func(t *testing.T) {
		p := model.Payment{
			ID: "pay-1", OrderID: "order-42", UserID: "user-1",
			Amount: decimal.RequireFromString("49.00"), Currency: "USD",
			Status: model.PaymentInitiated, Provider: "CARD",
			CreatedAt: base, UpdatedAt: base,
		}
		require.NoError(t, txr.WithinTx(ctx, func(tx *sqlx.Tx) error { return payments.Insert(ctx, tx, p) }))

		got, err := payments.GetByID(ctx, "pay-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, p.Amount.Equal(got.Amount))
		assert.Equal(t, base, got.CreatedAt)

		missing, err := payments.GetByID(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		// callback wins the race against the session write
		require.NoError(t, txr.WithinTx(ctx, func(tx *sqlx.Tx) error {
			locked, err := payments.GetForUpdate(ctx, tx, "pay-1")
			if err != nil {
				return err
			}
			require.NotNil(t, locked)
			return payments.UpdateStatus(ctx, tx, "pay-1", model.PaymentPaid, base.Add(time.Second))
		}))
		require.NoError(t, payments.MarkProcessing(ctx, nil, "pay-1", "sess-1", base.Add(2*time.Second)))

		got, _ = payments.GetByID(ctx, "pay-1")
		assert.Equal(t, model.PaymentPaid, got.Status)
		require.NotNil(t, got.ProviderSessionID)
		assert.Equal(t, "sess-1", *got.ProviderSessionID)

		p2 := p
		p2.ID, p2.Status, p2.CreatedAt = "pay-2", model.PaymentFailed, base.Add(time.Minute)
		require.NoError(t, payments.Insert(ctx, nil, p2))

		list, err := payments.List(ctx, repository.PaymentFilter{OrderID: "order-42"})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "pay-2", list[0].ID)

		list, err = payments.List(ctx, repository.PaymentFilter{OrderID: "order-42", Status: model.PaymentPaid})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "pay-1", list[0].ID)
	})

	t.Run("rollback discards payment and events", func(t *testing.T) {
		boom := errors.New("boom")
		err := txr.WithinTx(ctx, func(tx *sqlx.Tx) error {
			p := model.Payment{ID: "pay-rb", OrderID: "o", Amount: decimal.NewFromInt(1), Status: model.PaymentInitiated, CreatedAt: base, UpdatedAt: base}
			if err := payments.Insert(ctx, tx, p); err != nil {
				return err
			}
			if _, err := outbox.InsertIfAbsent(ctx, tx, event("rb-1", "pay-rb", model.EventPaymentInitiated, model.TargetAdmin, base)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := payments.GetByID(ctx, "pay-rb")
		require.NoError(t, err)
		assert.Nil(t, got)
		events, err := outbox.ListByPayment(ctx, "pay-rb")
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func idsOf(events []model.OutboxEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

