package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/payment-service/internal/client"
	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/repository/repotest"
	"github.com/jmehdipour/payment-service/internal/service/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	mu      sync.Mutex
	orders  map[string]model.OrderSnapshot
	patches int
}

func (s *stubOrders) GetOrder(_ context.Context, id string) (model.OrderSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.OrderSnapshot{}, &client.StatusError{Service: "orders", StatusCode: http.StatusNotFound}
	}
	return o, nil
}

func (s *stubOrders) UpdateStatus(context.Context, string, model.OrderStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches++
	return nil
}

type stubBank struct{ err error }

func (b stubBank) InitiatePayment(_ context.Context, req model.BankPaymentRequest) (model.BankPaymentResponse, error) {
	if b.err != nil {
		return model.BankPaymentResponse{}, b.err
	}
	return model.BankPaymentResponse{SessionID: "s-" + req.PaymentID, Status: "PENDING", RedirectURL: "http://bank.local/" + req.PaymentID}, nil
}

type stubDeliveries struct{ rows []model.DeliveryAttempt }

func (s stubDeliveries) InsertBatch(context.Context, []model.DeliveryAttempt) error { return nil }

func (s stubDeliveries) ListByPayment(_ context.Context, paymentID string, _, _ int) ([]model.DeliveryAttempt, error) {
	var out []model.DeliveryAttempt
	for _, r := range s.rows {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

type apiFixture struct {
	srv    *Server
	store  *repotest.Store
	orders *stubOrders
}

func newAPI(t *testing.T, mutate func(*config.Config, *Deps)) *apiFixture {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	store := repotest.NewStore()
	orders := &stubOrders{orders: map[string]model.OrderSnapshot{
		"order-1": {ID: "order-1", UserID: "user-1", Status: model.OrderCreated, Total: decimal.RequireFromString("49.00"), Currency: "USD"},
		"order-2": {ID: "order-2", UserID: "user-2", Status: model.OrderPaid, Total: decimal.RequireFromString("10.00"), Currency: "USD"},
	}}
	svc := payment.New(store, store, store, orders, stubBank{}, payment.Options{CallbackURL: cfg.Payments.CallbackURL})

	d := Deps{Payments: svc, Outbox: store}
	if mutate != nil {
		mutate(&cfg, &d)
	}
	return &apiFixture{srv: NewServer(cfg, d), store: store, orders: orders}
}

func (f *apiFixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_PaymentLifecycle(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(http.MethodPost, "/payments", `{"orderId":"order-1","paymentMethod":"card"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode[model.PaymentSession](t, rec)
	assert.Equal(t, model.PaymentProcessing, session.Status)
	assert.Equal(t, "http://bank.local/"+session.PaymentID, session.RedirectURL)

	rec = f.do(http.MethodGet, "/payments/"+session.PaymentID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[map[string]any](t, rec)
	assert.Equal(t, "PROCESSING", view["status"])
	assert.Equal(t, "CARD", view["provider"])
	assert.Equal(t, 49.0, view["amount"])

	cb := `{"paymentId":"` + session.PaymentID + `","status":"SUCCESS"}`
	rec = f.do(http.MethodPost, "/payments/webhook", cb)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.PaymentPaid, decode[model.Payment](t, rec).Status)

	// redelivery is a no-op
	rec = f.do(http.MethodPost, "/payments/webhook", cb)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.store.Events(), 3)
	assert.Equal(t, 1, f.orders.patches)

	rec = f.do(http.MethodGet, "/payments/"+session.PaymentID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[page[map[string]any]](t, rec)
	require.Equal(t, 3, events.Count)
	assert.Equal(t, "PAYMENT_INITIATED", events.Results[0]["eventType"])
	payload, ok := events.Results[0]["payload"].(map[string]any)
	require.True(t, ok, "payload is embedded JSON")
	assert.Equal(t, "order-1", payload["orderId"])
}

func TestAPI_ListPayments(t *testing.T) {
	f := newAPI(t, nil)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, st := range []model.PaymentStatus{model.PaymentPaid, model.PaymentFailed, model.PaymentPaid} {
		require.NoError(t, f.store.Insert(context.Background(), nil, model.Payment{
			ID: "p-" + string(rune('a'+i)), OrderID: "order-9", Status: st,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := f.do(http.MethodGet, "/payments?orderId=order-9&status=paid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[page[model.Payment]](t, rec)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, "p-c", res.Results[0].ID, "newest first")
	assert.Equal(t, 50, res.Limit)

	rec = f.do(http.MethodGet, "/payments?limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[page[model.Payment]](t, rec)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "p-b", res.Results[0].ID)

	rec = f.do(http.MethodGet, "/payments?status=REFUNDED", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ErrorMapping(t *testing.T) {
	f := newAPI(t, nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown order", http.MethodPost, "/payments", `{"orderId":"nope","paymentMethod":"CARD"}`, http.StatusNotFound},
		{"order already paid", http.MethodPost, "/payments", `{"orderId":"order-2","paymentMethod":"CARD"}`, http.StatusConflict},
		{"missing method", http.MethodPost, "/payments", `{"orderId":"order-1"}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/payments", `{"orderId":`, http.StatusBadRequest},
		{"unknown payment", http.MethodGet, "/payments/missing", "", http.StatusNotFound},
		{"unknown payment events", http.MethodGet, "/payments/missing/events", "", http.StatusNotFound},
		{"callback for unknown payment", http.MethodPost, "/payments/webhook", `{"paymentId":"missing","status":"SUCCESS"}`, http.StatusNotFound},
		{"callback without status", http.MethodPost, "/payments/webhook", `{"paymentId":"x"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())

			body := decode[ApiError](t, rec)
			assert.Equal(t, tc.status, body.Status)
			assert.Equal(t, http.StatusText(tc.status), body.Error)
			assert.NotEmpty(t, body.Message)
			assert.Equal(t, strings.SplitN(tc.path, "?", 2)[0], body.Path)
			assert.Equal(t, rec.Header().Get("X-Request-ID"), body.TraceID)
			assert.NotEmpty(t, body.TraceID)
		})
	}
}

func TestAPI_BankDownIsBadGateway(t *testing.T) {
	f := newAPI(t, func(cfg *config.Config, d *Deps) {
		store := repotest.NewStore()
		orders := &stubOrders{orders: map[string]model.OrderSnapshot{
			"order-1": {ID: "order-1", UserID: "u", Status: model.OrderCreated, Total: decimal.NewFromInt(1), Currency: "USD"},
		}}
		d.Payments = payment.New(store, store, store, orders, stubBank{err: context.DeadlineExceeded}, payment.Options{})
	})

	rec := f.do(http.MethodPost, "/payments", `{"orderId":"order-1","paymentMethod":"CARD"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPI_TerminalConflictIs409(t *testing.T) {
	f := newAPI(t, nil)
	require.NoError(t, f.store.Insert(context.Background(), nil, model.Payment{ID: "p-1", OrderID: "order-1", Status: model.PaymentPaid}))

	rec := f.do(http.MethodPost, "/payments/webhook", `{"paymentId":"p-1","status":"FAILED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_WebhookSecret(t *testing.T) {
	f := newAPI(t, func(cfg *config.Config, _ *Deps) { cfg.Payments.WebhookSecret = "s3cret" })
	require.NoError(t, f.store.Insert(context.Background(), nil, model.Payment{ID: "p-1", OrderID: "order-1", Status: model.PaymentProcessing}))

	body := `{"paymentId":"p-1","status":"SUCCESS"}`
	rec := f.do(http.MethodPost, "/payments/webhook", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing webhook secret", decode[ApiError](t, rec).Message)

	rec = f.do(http.MethodPost, "/payments/webhook", body, "X-Webhook-Secret", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_DeadLetters(t *testing.T) {
	f := newAPI(t, func(cfg *config.Config, _ *Deps) { cfg.Outbox.MaxAttempts = 3 })
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	f.store.AddEvent(model.OutboxEvent{ID: "dead", PaymentID: "p-1", Target: model.TargetAdmin, EventType: model.EventPaymentInitiated, Status: model.OutboxFailed, Attempts: 3, CreatedAt: now})
	f.store.AddEvent(model.OutboxEvent{ID: "retrying", PaymentID: "p-1", Target: model.TargetNotification, EventType: model.EventPaymentPaid, Status: model.OutboxFailed, Attempts: 1, CreatedAt: now})

	rec := f.do(http.MethodGet, "/outbox/dead-letters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[page[model.OutboxEvent]](t, rec)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "dead", res.Results[0].ID)
}

func TestAPI_Deliveries(t *testing.T) {
	f := newAPI(t, nil)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/payments/p-1/deliveries", "").Code, "route absent without ClickHouse")

	f = newAPI(t, func(_ *config.Config, d *Deps) {
		d.Deliveries = stubDeliveries{rows: []model.DeliveryAttempt{
			{EventID: "e-1", PaymentID: "p-1", Target: model.TargetAdmin, Attempt: 1, Outcome: model.DeliveryFailed, Error: "503"},
		}}
	})
	require.NoError(t, f.store.Insert(context.Background(), nil, model.Payment{ID: "p-1", OrderID: "order-1", Status: model.PaymentProcessing}))

	rec := f.do(http.MethodGet, "/payments/p-1/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[page[model.DeliveryAttempt]](t, rec)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, model.DeliveryFailed, res.Results[0].Outcome)
}

func TestAPI_Healthz(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
