package client

import (
	"context"
	"net/http"

	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/jmehdipour/payment-service/internal/model"
)

// Bank starts payments at the bank simulator.
type Bank struct {
	c jsonClient
}

func NewBank(cfg config.RemoteConfig) *Bank {
	return &Bank{c: newJSONClient("bank", cfg.BaseURL, cfg.TimeoutMs, cfg.Retries)}
}

func (b *Bank) InitiatePayment(ctx context.Context, req model.BankPaymentRequest) (model.BankPaymentResponse, error) {
	var res model.BankPaymentResponse
	err := b.c.do(ctx, http.MethodPost, "/bank/payments", req, &res)
	return res, err
}
