package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/metrics"
	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// EventDispatcher delivers a frozen payload to a target.
type EventDispatcher interface {
	Dispatch(ctx context.Context, target model.OutboxTarget, payload []byte) error
}

// DeliveryRecorder receives one record per dispatch attempt. Record must not block.
type DeliveryRecorder interface {
	Record(a model.DeliveryAttempt)
}

// markTimeout bounds the status write after a dispatch, which runs even
// when the loop is shutting down.
const markTimeout = 5 * time.Second

// Publisher:
// - polls the outbox for due PENDING/FAILED rows,
// - claims each row with a conditional update (safe across replicas),
// - dispatches the stored payload and records SENT or FAILED with backoff.
type Publisher struct {
	// Dependencies
	Outbox   repository.OutboxRepository
	Dispatch EventDispatcher
	Recorder DeliveryRecorder // optional

	// Behavior
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffCap        int
	Concurrency       int
	ProcessingTimeout time.Duration // 0 disables stale-claim reclaim

	Now func() time.Time
	Log *zap.Logger
}

// NewPublisher builds a publisher with sane defaults.
func NewPublisher(outbox repository.OutboxRepository, dispatch EventDispatcher) *Publisher {
	return &Publisher{
		Outbox:            outbox,
		Dispatch:          dispatch,
		PollInterval:      time.Second,
		BatchSize:         100,
		MaxAttempts:       10,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffCap:        10,
		Concurrency:       4,
		ProcessingTimeout: 5 * time.Minute,
		Now:               time.Now,
		Log:               logger.Named("publisher"),
	}
}

// CycleResult summarizes one polling cycle.
type CycleResult struct {
	Reclaimed int64
	Fetched   int
	Claimed   int
	Sent      int
	Failed    int
	Skipped   int // lost the claim or could not claim
}

// Run polls until ctx is cancelled. Cycles never overlap; in-flight
// dispatches of the current cycle finish before Run returns.
func (p *Publisher) Run(ctx context.Context) error {
	p.normalize()

	tick := time.NewTicker(p.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			res, err := p.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.Log.Error("outbox cycle failed", zap.Error(err))
				continue
			}
			if res.Fetched > 0 || res.Reclaimed > 0 {
				p.Log.Debug("outbox cycle",
					zap.Int64("reclaimed", res.Reclaimed),
					zap.Int("fetched", res.Fetched),
					zap.Int("sent", res.Sent),
					zap.Int("failed", res.Failed),
					zap.Int("skipped", res.Skipped),
				)
			}
		}
	}
}

// RunOnce executes a single polling cycle.
func (p *Publisher) RunOnce(ctx context.Context) (CycleResult, error) {
	p.normalize()

	var res CycleResult
	now := p.Now().UTC()

	if p.ProcessingTimeout > 0 {
		n, err := p.Outbox.ReclaimStale(ctx, now.Add(-p.ProcessingTimeout), p.BatchSize)
		if err != nil {
			return res, err
		}
		if n > 0 {
			metrics.OutboxReclaimedTotal.Add(float64(n))
			p.Log.Warn("reclaimed stale outbox claims", zap.Int64("count", n))
		}
		res.Reclaimed = n
	}

	batch, err := p.Outbox.FindReady(ctx, p.BatchSize, p.MaxAttempts, now)
	if err != nil {
		return res, err
	}
	res.Fetched = len(batch)

	var mu sync.Mutex
	wp := pool.New().WithMaxGoroutines(p.Concurrency)
	for _, e := range batch {
		wp.Go(func() {
			o := p.publish(ctx, e, now)
			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeSent:
				res.Claimed++
				res.Sent++
			case outcomeFailed:
				res.Claimed++
				res.Failed++
			default:
				res.Skipped++
			}
		})
	}
	wp.Wait()

	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

func (p *Publisher) publish(ctx context.Context, e model.OutboxEvent, now time.Time) outcome {
	target := e.Target.String()
	log := p.Log.With(
		zap.String("event_id", e.ID),
		zap.String("payment_id", e.PaymentID),
		zap.String("event_type", e.EventType),
		zap.String("target", target),
	)

	// backoff that applies if this attempt fails
	nextAttemptAt := now.Add(Backoff(e.Attempts, p.InitialBackoff, p.MaxBackoff, p.BackoffCap))

	claimed, err := p.Outbox.Claim(ctx, e.ID, now, nextAttemptAt)
	if err != nil {
		log.Error("claim failed", zap.Error(err))
		return outcomeSkipped
	}
	if !claimed {
		metrics.OutboxEventsTotal.WithLabelValues("claim_lost", target).Inc()
		return outcomeSkipped
	}
	metrics.OutboxEventsTotal.WithLabelValues("claimed", target).Inc()
	attempt := e.Attempts + 1

	start := time.Now()
	derr := p.Dispatch.Dispatch(ctx, e.Target, e.Payload)
	elapsed := time.Since(start)
	metrics.OutboxDispatchSeconds.WithLabelValues(target).Observe(elapsed.Seconds())

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	if derr == nil {
		if err := p.Outbox.MarkSent(markCtx, e.ID, p.Now().UTC()); err != nil {
			// the row stays PROCESSING until reclaimed and is then sent again
			log.Error("mark sent failed", zap.Error(err))
		}
		metrics.OutboxEventsTotal.WithLabelValues("sent", target).Inc()
		p.record(e, attempt, model.DeliverySent, nil, elapsed)
		return outcomeSent
	}

	if err := p.Outbox.MarkFailed(markCtx, e.ID, nextAttemptAt); err != nil {
		log.Error("could not record failed attempt", zap.Error(err))
	}
	metrics.OutboxEventsTotal.WithLabelValues("failed", target).Inc()
	p.record(e, attempt, model.DeliveryFailed, derr, elapsed)

	if attempt >= p.MaxAttempts {
		metrics.OutboxEventsTotal.WithLabelValues("exhausted", target).Inc()
		log.Error("outbox event exhausted its attempts", zap.Int("attempts", attempt), zap.Error(derr))
	} else {
		log.Warn("dispatch failed", zap.Int("attempt", attempt), zap.Time("next_attempt_at", nextAttemptAt), zap.Error(derr))
	}
	return outcomeFailed
}

func (p *Publisher) record(e model.OutboxEvent, attempt int, o model.DeliveryOutcome, err error, elapsed time.Duration) {
	if p.Recorder == nil {
		return
	}
	a := model.DeliveryAttempt{
		EventID:     e.ID,
		PaymentID:   e.PaymentID,
		Target:      e.Target,
		EventType:   e.EventType,
		Attempt:     uint32(attempt),
		Outcome:     o,
		LatencyMs:   uint32(elapsed.Milliseconds()),
		AttemptedAt: p.Now().UTC(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	p.Recorder.Record(a)
}

func (p *Publisher) normalize() {
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 100
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 10
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.BackoffCap < 0 {
		p.BackoffCap = 0
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Log == nil {
		p.Log = logger.Named("publisher")
	}
}

// NewPublisherFromConfig applies the outbox section of the config.
func NewPublisherFromConfig(cfg config.OutboxConfig, outbox repository.OutboxRepository, dispatch EventDispatcher) *Publisher {
	p := NewPublisher(outbox, dispatch)
	p.PollInterval = cfg.PollInterval
	p.BatchSize = cfg.BatchSize
	p.MaxAttempts = cfg.MaxAttempts
	p.InitialBackoff = cfg.InitialBackoff
	p.MaxBackoff = cfg.MaxBackoff
	p.BackoffCap = cfg.BackoffCap
	p.Concurrency = cfg.Concurrency
	p.ProcessingTimeout = cfg.ProcessingTimeout
	p.normalize()
	return p
}
