// Package client calls the order service and the bank simulator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrNotFound = errors.New("remote resource not found")

// StatusError is a non-2xx answer from a remote service.
type StatusError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service=%s %s %s status=%d", e.Service, e.Method, e.Path, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// permanent reports whether retrying cannot change the answer.
func permanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode/100 == 4
}

type jsonClient struct {
	service string
	baseURL string
	http    *http.Client
	retries int
}

func newJSONClient(service, baseURL string, timeoutMs, retries int) jsonClient {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if retries < 0 {
		retries = 0
	}
	return jsonClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		retries: retries,
	}
}

// do sends body as JSON and decodes a 2xx response into out (when non-nil).
// Transport errors and 5xx are retried up to c.retries times with exponential backoff.
func (c jsonClient) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		raw = b
	}

	op := func() error {
		err := c.once(ctx, method, path, raw, out)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(c.retries))

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (c jsonClient) once(ctx context.Context, method, path string, raw []byte, out any) error {
	var rd io.Reader
	if raw != nil {
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		return &StatusError{Service: c.service, Method: method, Path: path, StatusCode: res.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s %s: %w", c.service, path, err))
	}
	return nil
}
