package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/repository"
	"go.uber.org/zap"
)

// DeliveryLog buffers dispatch attempts and writes them to ClickHouse in
// batches. It is an audit trail only; the outbox table stays the source of
// truth, so attempts are dropped rather than slowing the publisher down.
type DeliveryLog struct {
	Repo      repository.CHDeliveriesRepository
	BatchSize int
	BatchWait time.Duration
	Log       *zap.Logger

	in      chan model.DeliveryAttempt
	dropped atomic.Int64
}

func NewDeliveryLog(repo repository.CHDeliveriesRepository, batchSize int, batchWait time.Duration, buffer int) *DeliveryLog {
	if batchSize <= 0 {
		batchSize = 500
	}
	if batchWait <= 0 {
		batchWait = 2 * time.Second
	}
	if buffer <= 0 {
		buffer = batchSize * 2
	}
	return &DeliveryLog{
		Repo:      repo,
		BatchSize: batchSize,
		BatchWait: batchWait,
		Log:       logger.Named("delivery-log"),
		in:        make(chan model.DeliveryAttempt, buffer),
	}
}

// Record enqueues an attempt without blocking.
func (l *DeliveryLog) Record(a model.DeliveryAttempt) {
	select {
	case l.in <- a:
	default:
		l.dropped.Add(1)
	}
}

// Dropped reports how many attempts were discarded because the buffer was full.
func (l *DeliveryLog) Dropped() int64 { return l.dropped.Load() }

// Run does size/time-based flushes until ctx is cancelled, then drains what
// is already buffered.
func (l *DeliveryLog) Run(ctx context.Context) {
	tick := time.NewTicker(l.BatchWait)
	defer tick.Stop()

	buf := make([]model.DeliveryAttempt, 0, l.BatchSize)

	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		if err := l.Repo.InsertBatch(ctx, buf); err != nil {
			l.Log.Error("delivery batch insert failed", zap.Int("rows", len(buf)), zap.Error(err))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
		drain:
			for {
				select {
				case a := <-l.in:
					buf = append(buf, a)
					if len(buf) >= l.BatchSize {
						flush(drainCtx)
					}
				default:
					break drain
				}
			}
			flush(drainCtx)
			cancel()
			if n := l.Dropped(); n > 0 {
				l.Log.Warn("delivery attempts dropped", zap.Int64("count", n))
			}
			return

		case a := <-l.in:
			buf = append(buf, a)
			if len(buf) >= l.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}
