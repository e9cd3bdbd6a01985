// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the trading engine's runtime settings. DatabaseURL and
// RedisURL are optional: without a database the game runs in memory,
// without Redis reads skip the cache layer.
type Config struct {
	Addr         string
	DatabaseURL  string
	RedisURL     string
	TickInterval time.Duration
	HistorySize  int
	InitialCash  decimal.Decimal
	CacheTTL     time.Duration
	StartPrice   float64
}

// LoadFromEnv reads the configuration, applying defaults for anything
// unset.
func LoadFromEnv() Config {
	addr := strings.TrimSpace(os.Getenv("PORT"))
	if addr != "" && !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}
	if addr == "" {
		addr = envDefault("BATR_ADDR", ":8080")
	}

	return Config{
		Addr:         addr,
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
		TickInterval: envDurationDefault("BATR_TICK_INTERVAL", time.Second),
		HistorySize:  envIntDefault("BATR_HISTORY_SIZE", 300),
		InitialCash:  envDecimalDefault("BATR_INITIAL_CASH", decimal.NewFromInt(1000)),
		CacheTTL:     envDurationDefault("BATR_CACHE_TTL", 30*time.Second),
		StartPrice:   envFloatDefault("BATR_START_PRICE", 100),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDecimalDefault(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		return fallback
	}
	return d
}
