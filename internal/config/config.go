package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Feed backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Reconciliation modes.
const (
	ModeGuarded    = "guarded"
	ModeOptimistic = "optimistic"
)

type Config struct {
	HTTPAddr    string
	ServiceName string
	LogLevel    string
	ClientID    string

	Feed      Feed
	Kafka     Kafka
	Postgres  Postgres
	Inventory Inventory
	Alerts    Alerts
	Gesture   Gesture
}

type Feed struct {
	Backend   string
	RedisAddr string
	Namespace string
}

type Kafka struct {
	Brokers []string
	Group   string
	Workers int
}

// Enabled reports whether any broker is configured.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

type Postgres struct {
	DSN string
}

type Inventory struct {
	Mode    string
	Resweep time.Duration
}

type Alerts struct {
	LowStockThreshold int
}

type Gesture struct {
	CommitRatio float64 // share of max travel a release must reach to commit
}

// Load reads configuration in order: defaults → .env (if present) → environment → flags.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.ServiceName = getenv("SERVICE_NAME", cfg.ServiceName)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.ClientID = getenv("CLIENT_ID", cfg.ClientID)
	cfg.Feed.Backend = getenv("FEED_BACKEND", cfg.Feed.Backend)
	cfg.Feed.RedisAddr = getenv("REDIS_ADDR", cfg.Feed.RedisAddr)
	cfg.Feed.Namespace = getenv("FEED_NAMESPACE", cfg.Feed.Namespace)
	cfg.Kafka.Brokers = splitCSV(getenv("KAFKA_BROKERS", strings.Join(cfg.Kafka.Brokers, ",")))
	cfg.Kafka.Group = getenv("JOURNAL_GROUP", cfg.Kafka.Group)
	cfg.Postgres.DSN = getenv("POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Inventory.Mode = getenv("RECONCILE_MODE", cfg.Inventory.Mode)

	var err error
	if cfg.Kafka.Workers, err = getenvInt("JOURNAL_WORKERS", cfg.Kafka.Workers); err != nil {
		return nil, err
	}
	if cfg.Alerts.LowStockThreshold, err = getenvInt("LOW_STOCK_THRESHOLD", cfg.Alerts.LowStockThreshold); err != nil {
		return nil, err
	}
	if v := os.Getenv("SLIDE_COMMIT_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("SLIDE_COMMIT_RATIO: %w", err)
		}
		cfg.Gesture.CommitRatio = f
	}
	if v := os.Getenv("RESWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("RESWEEP_INTERVAL: %w", err)
		}
		cfg.Inventory.Resweep = d
	}

	fs := pflag.NewFlagSet("console", pflag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.Feed.Backend, "feed", cfg.Feed.Backend, "change feed backend (memory|redis)")
	fs.StringVar(&cfg.Inventory.Mode, "reconcile-mode", cfg.Inventory.Mode, "stock reconciliation mode (guarded|optimistic)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "identifier of this console session")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and ranges.
func (c Config) Validate() error {
	switch c.Feed.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("invalid feed backend: %q", c.Feed.Backend)
	}
	switch c.Inventory.Mode {
	case ModeGuarded, ModeOptimistic:
	default:
		return fmt.Errorf("invalid reconcile mode: %q", c.Inventory.Mode)
	}
	if c.Inventory.Resweep < 0 {
		return fmt.Errorf("invalid resweep interval: %s", c.Inventory.Resweep)
	}
	if c.Alerts.LowStockThreshold < 0 {
		return fmt.Errorf("invalid low stock threshold: %d", c.Alerts.LowStockThreshold)
	}
	if c.Gesture.CommitRatio <= 0 || c.Gesture.CommitRatio > 1 {
		return fmt.Errorf("invalid slide commit ratio: %v", c.Gesture.CommitRatio)
	}
	if c.Kafka.Workers <= 0 {
		return fmt.Errorf("invalid journal workers: %d", c.Kafka.Workers)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return i, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
