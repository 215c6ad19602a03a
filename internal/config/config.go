package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
	MySQL       DatabaseConfig    `mapstructure:"mysql"`
	ClickHouse  ClickHouseConfig  `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	DeliveryLog DeliveryLogConfig `mapstructure:"delivery_log"`
	Targets     TargetsConfig     `mapstructure:"targets"`
	Orders      RemoteConfig      `mapstructure:"orders"`
	Bank        RemoteConfig      `mapstructure:"bank"`
	Payments    PaymentsConfig    `mapstructure:"payments"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type ClickHouseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	DatabaseConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	CallbacksTopic string   `mapstructure:"callbacks_topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type OutboxConfig struct {
	Embedded          bool          `mapstructure:"embedded"`
	PollInterval      time.Duration `mapstructure:"poll_interval"      validate:"gt=0"`
	BatchSize         int           `mapstructure:"batch_size"         validate:"gte=1"`
	MaxAttempts       int           `mapstructure:"max_attempts"       validate:"gte=1"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"    validate:"gt=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"        validate:"gtefield=InitialBackoff"`
	BackoffCap        int           `mapstructure:"backoff_cap"        validate:"gte=0,lte=30"`
	Concurrency       int           `mapstructure:"concurrency"        validate:"gte=1"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout" validate:"gte=0"`
}

type DeliveryLogConfig struct {
	BatchSize     int           `mapstructure:"batch_size"     validate:"gte=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
	Buffer        int           `mapstructure:"buffer"         validate:"gte=1"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

// SinkConfig is one outbox delivery target.
type SinkConfig struct {
	BaseURL   string        `mapstructure:"base_url"   validate:"required,url"`
	Path      string        `mapstructure:"path"       validate:"required,startswith=/"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type TargetsConfig struct {
	Admin        SinkConfig `mapstructure:"admin"`
	Notification SinkConfig `mapstructure:"notification"`
}

// RemoteConfig is a synchronous collaborator called by the payment flow.
type RemoteConfig struct {
	BaseURL   string `mapstructure:"base_url"   validate:"required,url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
	Retries   int    `mapstructure:"retries"    validate:"gte=0"`
}

type PaymentsConfig struct {
	CallbackURL            string `mapstructure:"callback_url"             validate:"required,url"`
	TerminalConflictPolicy string `mapstructure:"terminal_conflict_policy" validate:"oneof=reject last_write_wins"`
	WebhookSecret          string `mapstructure:"webhook_secret"`
}

type RateLimitConfig struct {
	RPS    int           `mapstructure:"rps"`
	Window time.Duration `mapstructure:"window"`
}

// Load reads embedded defaults, merges user YAML (if the file exists), applies
// env overrides (PAYMENTS_*, nested keys joined by "_") and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("merge %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	// env override (PAYMENTS_OUTBOX_BATCH_SIZE -> outbox.batch_size)
	v.SetEnvPrefix("PAYMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
