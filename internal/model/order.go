package model

import "github.com/shopspring/decimal"

type OrderStatus string

const (
	OrderCreated OrderStatus = "CREATED"
	OrderPaid    OrderStatus = "PAID"
	OrderFailed  OrderStatus = "FAILED"
)

func (s OrderStatus) String() string { return string(s) }

// OrderStatusFor is the order status reflecting a settled payment.
func OrderStatusFor(s PaymentStatus) OrderStatus {
	if s == PaymentPaid {
		return OrderPaid
	}
	return OrderFailed
}

// OrderSnapshot is the order as returned by the order service.
type OrderSnapshot struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId"`
	Status   OrderStatus     `json:"status"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

// OrderStatusUpdate is the body of PATCH /orders/{id}/status.
type OrderStatusUpdate struct {
	Status OrderStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}
