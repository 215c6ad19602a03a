package worker

import (
	"context"
	"fmt"

	"github.com/jmehdipour/payment-service/internal/app"
	"github.com/jmehdipour/payment-service/internal/dispatcher"
	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/repository"
	"github.com/jmehdipour/payment-service/internal/worker"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var publishOnce bool

var publisherCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Deliver outbox events to the admin and notification services",
	RunE:  runPublisher,
}

func init() {
	publisherCmd.Flags().BoolVar(&publishOnce, "once", false, "run a single polling cycle and exit")
}

func runPublisher(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
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

	pub := worker.NewPublisherFromConfig(cfg.Outbox, repository.NewOutboxRepository(mysqlDB), dispatcher.NewFromConfig(cfg.Targets))

	chDB, err := app.OpenClickHouse(cfg)
	if err != nil {
		return err
	}
	var (
		dl     *worker.DeliveryLog
		logWG  conc.WaitGroup
		logCtx context.Context
		stop   context.CancelFunc = func() {}
	)
	if chDB != nil {
		defer func() { _ = chDB.Close() }()
		dl = worker.NewDeliveryLog(repository.NewCHDeliveriesRepository(chDB),
			cfg.DeliveryLog.BatchSize, cfg.DeliveryLog.FlushInterval, cfg.DeliveryLog.Buffer)
		pub.Recorder = dl
		logCtx, stop = context.WithCancel(context.Background())
		logWG.Go(func() { dl.Run(logCtx) })
	}
	defer func() {
		stop()
		logWG.Wait()
	}()

	ctx, cancel := app.SignalContext()
	defer cancel()

	if publishOnce {
		res, err := pub.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("publish cycle: %w", err)
		}
		fmt.Printf(">> reclaimed=%d fetched=%d sent=%d failed=%d skipped=%d\n",
			res.Reclaimed, res.Fetched, res.Sent, res.Failed, res.Skipped)
		return nil
	}

	logger.Log.Info("publisher started",
		zap.Duration("poll_interval", pub.PollInterval),
		zap.Int("batch_size", pub.BatchSize),
		zap.Int("concurrency", pub.Concurrency),
		zap.Int("max_attempts", pub.MaxAttempts))
	return pub.Run(ctx)
}
