// Package repotest provides an in-memory payments and outbox store with the
// same conditional-update semantics as the MySQL repositories.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/jmoiron/sqlx"
)

type outboxKey struct {
	paymentID string
	eventType string
	target    model.OutboxTarget
}

type storedEvent struct {
	model.OutboxEvent
	seq int
}

// Store implements repository.PaymentsRepository, repository.OutboxRepository
// and repository.TxRunner. WithinTx restores the previous state when fn fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	payments map[string]model.Payment
	events   map[string]*storedEvent
	keys     map[outboxKey]string
	seq      int
}

var (
	_ repository.PaymentsRepository = (*Store)(nil)
	_ repository.OutboxRepository   = (*Store)(nil)
	_ repository.TxRunner           = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		payments: map[string]model.Payment{},
		events:   map[string]*storedEvent{},
		keys:     map[outboxKey]string{},
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	payments, events, keys, seq := s.snapshot()
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.payments, s.events, s.keys, s.seq = payments, events, keys, seq
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) snapshot() (map[string]model.Payment, map[string]*storedEvent, map[outboxKey]string, int) {
	payments := make(map[string]model.Payment, len(s.payments))
	for k, v := range s.payments {
		payments[k] = v
	}
	events := make(map[string]*storedEvent, len(s.events))
	for k, v := range s.events {
		cp := *v
		events[k] = &cp
	}
	keys := make(map[outboxKey]string, len(s.keys))
	for k, v := range s.keys {
		keys[k] = v
	}
	return payments, events, keys, s.seq
}

// ---- payments ----

func (s *Store) Insert(_ context.Context, _ *sqlx.Tx, p model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) GetForUpdate(ctx context.Context, _ *sqlx.Tx, id string) (*model.Payment, error) {
	return s.GetByID(ctx, id)
}

func (s *Store) UpdateStatus(_ context.Context, _ *sqlx.Tx, id string, status model.PaymentStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.Status = status
		p.UpdatedAt = updatedAt
		s.payments[id] = p
	}
	return nil
}

func (s *Store) MarkProcessing(_ context.Context, _ *sqlx.Tx, id, sessionID string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.ProviderSessionID = &sessionID
		if p.Status == model.PaymentInitiated {
			p.Status = model.PaymentProcessing
		}
		p.UpdatedAt = updatedAt
		s.payments[id] = p
	}
	return nil
}

func (s *Store) List(_ context.Context, f repository.PaymentFilter) ([]model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Payment{}
	for _, p := range s.payments {
		if f.OrderID != "" && p.OrderID != f.OrderID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) > 0
	})
	return page(out, f.Limit, f.Offset), nil
}

// Payments returns every stored payment.
func (s *Store) Payments() []model.Payment {
	out, _ := s.List(context.Background(), repository.PaymentFilter{Limit: 1000})
	return out
}

// ---- outbox ----

func (s *Store) InsertIfAbsent(_ context.Context, _ *sqlx.Tx, e model.OutboxEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := outboxKey{paymentID: e.PaymentID, eventType: e.EventType, target: e.Target}
	if _, ok := s.keys[k]; ok {
		return false, nil
	}
	e.Status = model.OutboxPending
	e.Attempts = 0
	e.NextAttemptAt = e.CreatedAt
	s.seq++
	s.events[e.ID] = &storedEvent{OutboxEvent: e, seq: s.seq}
	s.keys[k] = e.ID
	return true, nil
}

func (s *Store) FindReady(_ context.Context, limit, maxAttempts int, now time.Time) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []*storedEvent
	for _, e := range s.events {
		if (e.Status == model.OutboxPending || e.Status == model.OutboxFailed) &&
			e.Attempts < maxAttempts && !e.NextAttemptAt.After(now) {
			ready = append(ready, e)
		}
	}
	sortBySeq(ready)
	if len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]model.OutboxEvent, 0, len(ready))
	for _, e := range ready {
		out = append(out, e.OutboxEvent)
	}
	return out, nil
}

func (s *Store) Claim(_ context.Context, id string, now, nextAttemptAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return false, nil
	}
	if e.Status != model.OutboxPending && e.Status != model.OutboxFailed {
		return false, nil
	}
	if e.NextAttemptAt.After(now) {
		return false, nil
	}
	e.Status = model.OutboxProcessing
	e.Attempts++
	last := now
	e.LastAttemptAt = &last
	e.NextAttemptAt = nextAttemptAt
	return true, nil
}

func (s *Store) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok && e.Status == model.OutboxProcessing {
		e.Status = model.OutboxSent
		at := sentAt
		e.SentAt = &at
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok && e.Status == model.OutboxProcessing {
		e.Status = model.OutboxFailed
		e.NextAttemptAt = nextAttemptAt
	}
	return nil
}

func (s *Store) ReclaimStale(_ context.Context, claimedBefore time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.events {
		if n >= int64(limit) {
			break
		}
		if e.Status == model.OutboxProcessing && e.LastAttemptAt != nil && e.LastAttemptAt.Before(claimedBefore) {
			e.Status = model.OutboxFailed
			n++
		}
	}
	return n, nil
}

func (s *Store) ListByPayment(_ context.Context, paymentID string) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*storedEvent
	for _, e := range s.events {
		if e.PaymentID == paymentID {
			matched = append(matched, e)
		}
	}
	sortBySeq(matched)
	out := make([]model.OutboxEvent, 0, len(matched))
	for _, e := range matched {
		out = append(out, e.OutboxEvent)
	}
	return out, nil
}

func (s *Store) ListExhausted(_ context.Context, maxAttempts, limit, offset int) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*storedEvent
	for _, e := range s.events {
		if e.Status == model.OutboxFailed && e.Attempts >= maxAttempts {
			matched = append(matched, e)
		}
	}
	sortBySeq(matched)
	out := make([]model.OutboxEvent, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		out = append(out, matched[i].OutboxEvent)
	}
	return page(out, limit, offset), nil
}

// Events returns every outbox row in insertion order.
func (s *Store) Events() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*storedEvent, 0, len(s.events))
	for _, e := range s.events {
		all = append(all, e)
	}
	sortBySeq(all)
	out := make([]model.OutboxEvent, 0, len(all))
	for _, e := range all {
		out = append(out, e.OutboxEvent)
	}
	return out
}

// Event returns one outbox row by id.
func (s *Store) Event(id string) (model.OutboxEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return model.OutboxEvent{}, false
	}
	return e.OutboxEvent, true
}

// AddEvent stores a row as-is, bypassing InsertIfAbsent defaults.
func (s *Store) AddEvent(e model.OutboxEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.events[e.ID] = &storedEvent{OutboxEvent: e, seq: s.seq}
	s.keys[outboxKey{paymentID: e.PaymentID, eventType: e.EventType, target: e.Target}] = e.ID
}

func sortBySeq(events []*storedEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].seq < events[j].seq
	})
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
