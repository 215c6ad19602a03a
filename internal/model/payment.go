package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// peers expect JSON numbers for amounts, not quoted strings
	decimal.MarshalJSONWithoutQuotes = true
}

type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "INITIATED"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentPaid       PaymentStatus = "PAID"
	PaymentFailed     PaymentStatus = "FAILED"
)

func (s PaymentStatus) String() string { return string(s) }

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentInitiated, PaymentProcessing, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// ParsePaymentStatus normalizes a query value; empty input is not valid.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// CallbackStatus maps a raw bank status to the payment status it settles on.
// "SUCCESS" (any case) means PAID, everything else FAILED.
func CallbackStatus(raw string) PaymentStatus {
	if strings.EqualFold(strings.TrimSpace(raw), "SUCCESS") {
		return PaymentPaid
	}
	return PaymentFailed
}

// Payment is the DB entity persisted in the payments table.
type Payment struct {
	ID                string          `db:"id"                  json:"id"`
	OrderID           string          `db:"order_id"            json:"orderId"`
	UserID            string          `db:"user_id"             json:"userId"`
	Amount            decimal.Decimal `db:"amount"              json:"amount"`
	Currency          string          `db:"currency"            json:"currency"`
	Status            PaymentStatus   `db:"status"              json:"status"`
	Provider          string          `db:"provider"            json:"provider"`
	ProviderSessionID *string         `db:"provider_session_id" json:"providerSessionId,omitempty"`
	CreatedAt         time.Time       `db:"created_at"          json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at"          json:"updatedAt"`
}

// PaymentSession is what a client gets back from initiating a payment.
type PaymentSession struct {
	PaymentID   string        `json:"paymentId"`
	Status      PaymentStatus `json:"status"`
	RedirectURL string        `json:"redirectUrl"`
}
