package worker

import (
	"github.com/jmehdipour/payment-service/internal/app"
	"github.com/jmehdipour/payment-service/internal/kafka"
	"github.com/jmehdipour/payment-service/internal/logger"
	"github.com/jmehdipour/payment-service/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var callbacksCmd = &cobra.Command{
	Use:   "callbacks",
	Short: "Apply bank callbacks published on Kafka",
	RunE:  runCallbacks,
}

func runCallbacks(cmd *cobra.Command, args []string) error {
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

	consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.CallbacksTopic)
	if err != nil {
		return err
	}
	defer func() { _ = consumer.Close() }()

	svc, _ := app.PaymentService(cfg, mysqlDB)
	w := worker.NewCallbackConsumer(consumer, svc)

	ctx, cancel := app.SignalContext()
	defer cancel()

	logger.Log.Info("callbacks consumer started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.CallbacksTopic),
		zap.String("group", cfg.Kafka.GroupID))
	return w.Run(ctx)
}
