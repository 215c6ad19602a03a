package http

import (
	"net/http"

	"github.com/jmehdipour/payment-service/internal/model"
	"github.com/labstack/echo/v4"
)

// webhookHandler applies a bank callback and returns the resulting payment.
// Redelivery of an applied callback answers 200 with the unchanged payment.
func webhookHandler(svc PaymentService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var cb model.BankCallback
		if err := bindAndValidate(c, &cb); err != nil {
			return err
		}

		p, err := svc.HandleCallback(c.Request().Context(), cb)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}
}
