package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/payment-service/internal/app"
	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/jmehdipour/payment-service/internal/db"
	"github.com/spf13/cobra"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations (MySQL schema, ClickHouse delivery log when enabled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		version, err := db.MigrateMySQL(cfg.MySQL.DSN, migrateDown)
		if err != nil {
			return fmt.Errorf("mysql migrate: %w", err)
		}
		fmt.Printf(">> MySQL schema at version %d\n", version)

		if migrateDown || !cfg.ClickHouse.Enabled {
			return nil
		}

		chDB, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		defer chDB.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := db.ApplyClickHouseSchema(ctx, chDB); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
		fmt.Println(">> ClickHouse schema applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "revert every MySQL migration")
}
