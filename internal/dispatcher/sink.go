package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/payment-service/internal/model"
)

// Sink delivers a serialized event to one remote endpoint.
type Sink interface {
	Target() model.OutboxTarget
	Send(ctx context.Context, payload []byte) error
}

// HTTPSink POSTs payloads as-is to baseURL+path behind a MicroBreaker.
type HTTPSink struct {
	target model.OutboxTarget
	url    string
	client *http.Client
	br     *MicroBreaker
}

func NewHTTPSink(
	target model.OutboxTarget,
	baseURL, path string,
	timeoutMs, failThreshold, openForMs int,
) *HTTPSink {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	if failThreshold <= 0 {
		failThreshold = 5
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPSink{
		target: target,
		url:    strings.TrimRight(baseURL, "/") + path,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:     NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (s *HTTPSink) Target() model.OutboxTarget { return s.target }

func (s *HTTPSink) Send(ctx context.Context, payload []byte) error {
	if !s.br.TryAcquire() {
		return fmt.Errorf("target=%s: %w", s.target, ErrBreakerOpen)
	}

	if err := s.post(ctx, payload); err != nil {
		s.br.OnFailure()
		return err
	}

	s.br.OnSuccess()

	return nil
}

func (s *HTTPSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("target=%s url=%s status=%d", s.target, s.url, res.StatusCode)
	}

	return nil
}
