package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/mysql/*.sql
var mysqlMigrations embed.FS

//go:embed migrations/clickhouse/*.sql
var clickhouseMigrations embed.FS

// MigrateMySQL applies (or with down, reverts) the embedded MySQL migrations
// and returns the resulting schema version.
func MigrateMySQL(dsn string, down bool) (uint, error) {
	src, err := iofs.New(mysqlMigrations, "migrations/mysql")
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}

	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return 0, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.MultiStatements = true
	cfg.ParseTime = true

	m, err := migrate.NewWithSourceInstance("iofs", src, "mysql://"+cfg.FormatDSN())
	if err != nil {
		return 0, fmt.Errorf("init migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// ApplyClickHouseSchema runs the embedded ClickHouse DDL one statement at a time.
// Every statement is idempotent (IF NOT EXISTS).
func ApplyClickHouseSchema(ctx context.Context, ch *sqlx.DB) error {
	files, err := fs.Glob(clickhouseMigrations, "migrations/clickhouse/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, name := range files {
		body, err := clickhouseMigrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(body), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := ch.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %s: %w", name, err)
			}
		}
	}
	return nil
}
