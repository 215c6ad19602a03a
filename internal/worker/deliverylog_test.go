package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeliveries struct {
	mu      sync.Mutex
	batches [][]model.DeliveryAttempt
	err     error
}

func (f *fakeDeliveries) InsertBatch(_ context.Context, rows []model.DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]model.DeliveryAttempt(nil), rows...)
	f.batches = append(f.batches, cp)
	return f.err
}

func (f *fakeDeliveries) ListByPayment(context.Context, string, int, int) ([]model.DeliveryAttempt, error) {
	return nil, nil
}

func (f *fakeDeliveries) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeDeliveries) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.batches))
	for _, b := range f.batches {
		out = append(out, len(b))
	}
	return out
}

func attempt(i int) model.DeliveryAttempt {
	return model.DeliveryAttempt{
		EventID:     fmt.Sprintf("evt-%d", i),
		PaymentID:   "pay-1",
		Target:      model.TargetAdmin,
		EventType:   model.EventPaymentInitiated,
		Attempt:     1,
		Outcome:     model.DeliverySent,
		AttemptedAt: t0,
	}
}

func TestDeliveryLog_FlushesOnBatchSize(t *testing.T) {
	repo := &fakeDeliveries{}
	l := NewDeliveryLog(repo, 3, time.Hour, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	for i := 0; i < 6; i++ {
		l.Record(attempt(i))
	}

	assert.Eventually(t, func() bool { return repo.rows() == 6 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3, 3}, repo.batchSizes())
}

func TestDeliveryLog_FlushesOnTick(t *testing.T) {
	repo := &fakeDeliveries{}
	l := NewDeliveryLog(repo, 100, 20*time.Millisecond, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Record(attempt(1))
	assert.Eventually(t, func() bool { return repo.rows() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDeliveryLog_DrainsOnShutdown(t *testing.T) {
	repo := &fakeDeliveries{}
	l := NewDeliveryLog(repo, 100, time.Hour, 16)

	for i := 0; i < 5; i++ {
		l.Record(attempt(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery log did not stop")
	}
	assert.Equal(t, 5, repo.rows())
}

func TestDeliveryLog_RecordNeverBlocks(t *testing.T) {
	l := NewDeliveryLog(&fakeDeliveries{}, 10, time.Hour, 2)

	for i := 0; i < 5; i++ {
		l.Record(attempt(i))
	}
	assert.EqualValues(t, 3, l.Dropped())
}

func TestDeliveryLog_InsertErrorDoesNotStopLoop(t *testing.T) {
	repo := &fakeDeliveries{err: errors.New("clickhouse down")}
	l := NewDeliveryLog(repo, 1, time.Hour, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Record(attempt(1))
	l.Record(attempt(2))

	require.Eventually(t, func() bool { return len(repo.batchSizes()) == 2 }, 2*time.Second, 5*time.Millisecond)
}
