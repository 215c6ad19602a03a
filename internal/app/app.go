// Package app holds the process wiring shared by the serve and worker commands.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/payment-service/internal/client"
	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/jmehdipour/payment-service/internal/db"
	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/metrics"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/jmehdipour/payment-service/internal/service/payment"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
)

// Load reads the config and initializes logging and metrics for a command.
func Load(cfgPath string) (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)
	return cfg, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func OpenMySQL(cfg config.Config) (*sqlx.DB, error) {
	mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFromConfig(cfg.MySQL))
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return mysqlDB, nil
}

// OpenClickHouse returns nil, nil when the delivery log is disabled.
func OpenClickHouse(cfg config.Config) (*sqlx.DB, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, db.PoolOptsFromConfig(cfg.ClickHouse.DatabaseConfig))
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return chDB, nil
}

// PaymentService wires the saga against MySQL and the remote collaborators.
func PaymentService(cfg config.Config, mysqlDB *sqlx.DB) (*payment.Service, repository.OutboxRepository) {
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	svc := payment.New(
		repository.NewTxRunner(mysqlDB),
		repository.NewPaymentsRepository(mysqlDB),
		outboxRepo,
		client.NewOrders(cfg.Orders),
		client.NewBank(cfg.Bank),
		payment.Options{
			CallbackURL:    cfg.Payments.CallbackURL,
			ConflictPolicy: payment.ConflictPolicy(cfg.Payments.TerminalConflictPolicy),
		},
	)
	return svc, outboxRepo
}
