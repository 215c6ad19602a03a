package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/service/payment"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ApiError is the body of every 4xx/5xx response.
type ApiError struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
	TraceID   string    `json:"traceId,omitempty"`
}

// errBadRequest marks bind and validation failures.
type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

func badRequest(err error) error { return errBadRequest{err: err} }

func statusOf(err error) int {
	var he *echo.HTTPError
	var br errBadRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, payment.ErrPaymentNotFound), errors.Is(err, payment.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrOrderAlreadyProcessed), errors.Is(err, payment.ErrTerminalConflict):
		return http.StatusConflict
	case errors.Is(err, payment.ErrBankUnavailable), errors.Is(err, payment.ErrOrderServiceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error returned by a handler or middleware as an
// ApiError. 5xx details stay in the log.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}

	traceID := c.Response().Header().Get(echo.HeaderXRequestID)
	if status >= http.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.String("trace_id", traceID),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}

	body := ApiError{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   msg,
		Path:      c.Request().URL.Path,
		TraceID:   traceID,
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, body)
	}
	if werr != nil {
		logger.Log.Warn("could not write error response", zap.Error(werr))
	}
}
