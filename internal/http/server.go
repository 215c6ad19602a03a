package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/jmehdipour/payment-service/internal/http/middleware"
	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators the API serves from.
type Deps struct {
	Payments   PaymentService
	Outbox     repository.OutboxRepository
	Deliveries repository.CHDeliveriesRepository // nil when ClickHouse is disabled
	Redis      *redis.Client                     // nil disables rate limiting
}

type Server struct{ e *echo.Echo }

type requestValidator struct{ v *validator.Validate }

func (rv requestValidator) Validate(i any) error { return rv.v.Struct(i) }

func NewServer(cfg config.Config, d Deps) *Server {
	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = requestValidator{v: validator.New()}
	e.HTTPErrorHandler = errorHandler
	e.Logger.SetLevel(gommonLevel(cfg.Log.Level))
	e.Use(
		echoMid.RequestIDWithConfig(echoMid.RequestIDConfig{Generator: uuid.NewString}),
		echoMid.Recover(),
		echoMid.Logger(),
	)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         cfg.RateLimit.Window,
		RetryAfterHint: true,
	})
	webhookMW := middleware.WebhookSecretMiddleware(cfg.Payments.WebhookSecret)

	// routes
	p := e.Group("/payments")
	p.POST("", initiatePaymentHandler(d.Payments), rlMW)
	p.GET("", listPaymentsHandler(d.Payments))
	p.POST("/webhook", webhookHandler(d.Payments), webhookMW)
	p.GET("/:id", getPaymentHandler(d.Payments))
	p.GET("/:id/events", paymentEventsHandler(d.Payments))
	if d.Deliveries != nil {
		p.GET("/:id/deliveries", paymentDeliveriesHandler(d.Payments, d.Deliveries))
	}

	e.GET("/outbox/dead-letters", deadLettersHandler(d.Outbox, cfg.Outbox.MaxAttempts))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func gommonLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
