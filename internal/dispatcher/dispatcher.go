package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/jmehdipour/payment-service/internal/model"
)

var (
	ErrUnknownTarget = errors.New("no sink for target")
	ErrBreakerOpen   = errors.New("circuit breaker open")
)

// Dispatcher routes a frozen payload to the sink registered for its target.
type Dispatcher struct {
	sinks map[model.OutboxTarget]Sink
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	m := make(map[model.OutboxTarget]Sink, len(sinks))
	for _, s := range sinks {
		m[s.Target()] = s
	}
	return &Dispatcher{sinks: m}
}

// NewFromConfig wires the ADMIN and NOTIFICATION HTTP sinks.
func NewFromConfig(cfg config.TargetsConfig) *Dispatcher {
	sink := func(t model.OutboxTarget, c config.SinkConfig) Sink {
		return NewHTTPSink(t, c.BaseURL, c.Path, c.TimeoutMs, c.Breaker.FailThreshold, c.Breaker.OpenForMs)
	}
	return NewDispatcher(
		sink(model.TargetAdmin, cfg.Admin),
		sink(model.TargetNotification, cfg.Notification),
	)
}

// Dispatch sends payload unchanged; it never rebuilds the event.
func (d *Dispatcher) Dispatch(ctx context.Context, target model.OutboxTarget, payload []byte) error {
	s, ok := d.sinks[target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	return s.Send(ctx, payload)
}
