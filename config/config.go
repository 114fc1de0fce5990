// Package config loads engine configuration from the environment.
// A .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server needs to start.
type Config struct {
	Port string

	// DBDriver selects the store: "sqlite" (default) or "postgres".
	DBDriver string
	// DBPath is the SQLite file (":memory:" allowed).
	DBPath string
	// DBSource is the PostgreSQL connection string.
	DBSource string

	GatewayURL string

	// KafkaBrokers enables the settlement event stream when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	PollInterval time.Duration
	MaxPolls     int
}

// Load reads configuration, applying defaults for everything optional.
func Load() (*Config, error) {
	// Missing .env is fine; real env vars still apply.
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		DBDriver:     getenv("DB_DRIVER", "sqlite"),
		DBPath:       getenv("DB_PATH", "payroll.db"),
		DBSource:     os.Getenv("DB_SOURCE"),
		GatewayURL:   os.Getenv("GATEWAY_URL"),
		KafkaTopic:   getenv("KAFKA_TOPIC", "payment_settled"),
		PollInterval: 5 * time.Second,
		MaxPolls:     12,
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL %q: %w", v, err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("POLL_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid POLL_MAX_ATTEMPTS %q", v)
		}
		cfg.MaxPolls = n
	}

	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE is required when DB_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}

	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("GATEWAY_URL environment variable is required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
