package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type DeliveryConfig struct {
	Workers        int             `mapstructure:"workers"`
	QueueSize      int             `mapstructure:"queue_size"`
	EnqueueTimeout time.Duration   `mapstructure:"enqueue_timeout"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	Parallelism    int             `mapstructure:"parallelism"`
	RateLimit      float64         `mapstructure:"rate_limit"`
	RateBurst      int             `mapstructure:"rate_burst"`
	AutoRetry      AutoRetryConfig `mapstructure:"auto_retry"`
}

type AutoRetryConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Interval time.Duration   `mapstructure:"interval"`
	Schedule []time.Duration `mapstructure:"schedule"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zentry-webhooks")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/zentry-webhooks")
	}

	setDefaults(v)

	v.SetEnvPrefix("ZENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/zentry-webhooks.db")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("storage.postgres.max_conn_idle_time", 30*time.Minute)

	v.SetDefault("delivery.workers", 4)
	v.SetDefault("delivery.queue_size", 1024)
	v.SetDefault("delivery.enqueue_timeout", 100*time.Millisecond)
	v.SetDefault("delivery.timeout", 30*time.Second)
	v.SetDefault("delivery.parallelism", 16)
	v.SetDefault("delivery.rate_limit", 0)
	v.SetDefault("delivery.rate_burst", 5)
	v.SetDefault("delivery.auto_retry.enabled", false)
	v.SetDefault("delivery.auto_retry.interval", 30*time.Second)
	v.SetDefault("delivery.auto_retry.schedule", []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
