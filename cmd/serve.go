package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/payment-service/internal/app"
	"github.com/jmehdipour/payment-service/internal/db"
	"github.com/jmehdipour/payment-service/internal/dispatcher"
	httpSrv "github.com/jmehdipour/payment-service/internal/http"
	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/jmehdipour/payment-service/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server (and the outbox publisher when outbox.embedded)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.Load(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Log.Sync() }()

		mysqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer mysqlDB.Close()

		var redisClient *redis.Client
		if cfg.Redis.Enabled {
			redisClient, err = db.NewRedisClient(cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = redisClient.Close() }()
		}

		chDB, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		var deliveriesRepo repository.CHDeliveriesRepository
		if chDB != nil {
			defer func() { _ = chDB.Close() }()
			deliveriesRepo = repository.NewCHDeliveriesRepository(chDB)
		}

		svc, outboxRepo := app.PaymentService(cfg, mysqlDB)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Payments:   svc,
			Outbox:     outboxRepo,
			Deliveries: deliveriesRepo,
			Redis:      redisClient,
		})

		// background: publisher first, delivery log stops after it so the
		// last attempts are flushed
		pubCtx, stopPub := context.WithCancel(context.Background())
		logCtx, stopLog := context.WithCancel(context.Background())
		var pubWG, logWG conc.WaitGroup

		if cfg.Outbox.Embedded {
			pub := worker.NewPublisherFromConfig(cfg.Outbox, outboxRepo, dispatcher.NewFromConfig(cfg.Targets))
			if deliveriesRepo != nil {
				dl := worker.NewDeliveryLog(deliveriesRepo, cfg.DeliveryLog.BatchSize, cfg.DeliveryLog.FlushInterval, cfg.DeliveryLog.Buffer)
				pub.Recorder = dl
				logWG.Go(func() { dl.Run(logCtx) })
			}
			pubWG.Go(func() { _ = pub.Run(pubCtx) })
			logger.Log.Info("embedded outbox publisher started",
				zap.Duration("poll_interval", cfg.Outbox.PollInterval),
				zap.Int("concurrency", cfg.Outbox.Concurrency))
		}

		ctx, stop := app.SignalContext()
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		select {
		case <-ctx.Done():
			logger.Log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		stopPub()
		pubWG.Wait()
		stopLog()
		logWG.Wait()

		return nil
	},
}
