package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/jmehdipour/payment-service/internal/service/payment"
	"github.com/labstack/echo/v4"
)

// PaymentService is the saga as seen by the HTTP layer.
type PaymentService interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (model.PaymentSession, error)
	HandleCallback(ctx context.Context, cb model.BankCallback) (model.Payment, error)
	GetPayment(ctx context.Context, id string) (model.Payment, error)
	ListPayments(ctx context.Context, f repository.PaymentFilter) ([]model.Payment, error)
	PaymentEvents(ctx context.Context, id string) ([]model.OutboxEvent, error)
}

// page is the listing envelope shared by every collection endpoint.
type page[T any] struct {
	Limit   int `json:"limit"`
	Offset  int `json:"offset"`
	Count   int `json:"count"`
	Results []T `json:"results"`
}

func newPage[T any](items []T, limit, offset int) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Limit: limit, Offset: offset, Count: len(items), Results: items}
}

// paging reads limit/offset; out-of-range values fall back to the defaults.
func paging(c echo.Context) (limit, offset int) {
	limit = 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func bindAndValidate(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return badRequest(errors.New("malformed request body"))
	}
	if err := c.Validate(v); err != nil {
		return badRequest(err)
	}
	return nil
}

func initiatePaymentHandler(svc PaymentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req payment.InitiateRequest
		if err := bindAndValidate(c, &req); err != nil {
			return err
		}
		req.OrderID = strings.TrimSpace(req.OrderID)
		req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))

		session, err := svc.Initiate(c.Request().Context(), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, session)
	}
}

func getPaymentHandler(svc PaymentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := svc.GetPayment(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}
}

func listPaymentsHandler(svc PaymentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := paging(c)
		f := repository.PaymentFilter{
			OrderID: strings.TrimSpace(c.QueryParam("orderId")),
			Limit:   limit,
			Offset:  offset,
		}
		if raw := c.QueryParam("status"); raw != "" {
			st, ok := model.ParsePaymentStatus(raw)
			if !ok {
				return badRequest(errors.New("unknown payment status " + strconv.Quote(raw)))
			}
			f.Status = st
		}

		ps, err := svc.ListPayments(c.Request().Context(), f)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newPage(ps, limit, offset))
	}
}

func paymentEventsHandler(svc PaymentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		events, err := svc.PaymentEvents(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newPage(events, len(events), 0))
	}
}

func paymentDeliveriesHandler(svc PaymentService, chRepo repository.CHDeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if _, err := svc.GetPayment(c.Request().Context(), id); err != nil {
			return err
		}
		limit, offset := paging(c)
		rows, err := chRepo.ListByPayment(c.Request().Context(), id, limit, offset)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newPage(rows, limit, offset))
	}
}

func deadLettersHandler(outbox repository.OutboxRepository, maxAttempts int) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := paging(c)
		events, err := outbox.ListExhausted(c.Request().Context(), maxAttempts, limit, offset)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newPage(events, limit, offset))
	}
}
