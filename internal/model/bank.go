package model

import "github.com/shopspring/decimal"

// BankPaymentRequest starts a payment at the bank simulator.
type BankPaymentRequest struct {
	PaymentID   string          `json:"paymentId"`
	OrderID     string          `json:"orderId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CallbackURL string          `json:"callbackUrl"`
}

type BankPaymentResponse struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirectUrl"`
}

// BankCallback is what the bank reports once a payment settles, either
// through the webhook or the callbacks topic.
type BankCallback struct {
	PaymentID string `json:"paymentId" validate:"required"`
	Status    string `json:"status"    validate:"required"`
	Reason    string `json:"reason,omitempty"`
}
