package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const HeaderWebhookSecret = "X-Webhook-Secret"

// WebhookSecretMiddleware authenticates bank callbacks with a shared secret
// sent in X-Webhook-Secret. An empty secret disables the check.
func WebhookSecretMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		want := []byte(secret)
		return func(c echo.Context) error {
			got := strings.TrimSpace(c.Request().Header.Get(HeaderWebhookSecret))
			if got == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing webhook secret")
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
			}
			return next(c)
		}
	}
}
