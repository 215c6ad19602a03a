package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/jmehdipour/payment-service/internal/model"
)

// Orders talks to the order service.
type Orders struct {
	c jsonClient
}

func NewOrders(cfg config.RemoteConfig) *Orders {
	return &Orders{c: newJSONClient("orders", cfg.BaseURL, cfg.TimeoutMs, cfg.Retries)}
}

// GetOrder is never retried; a 404 matches ErrNotFound.
func (o *Orders) GetOrder(ctx context.Context, id string) (model.OrderSnapshot, error) {
	var snap model.OrderSnapshot
	single := o.c
	single.retries = 0
	err := single.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &snap)
	return snap, err
}

func (o *Orders) UpdateStatus(ctx context.Context, id string, u model.OrderStatusUpdate) error {
	return o.c.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id)+"/status", u, nil)
}
