package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/atmx/betting-exchange/internal/exchange"
)

// config is read once from the environment at startup.
type config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	PebbleDir   string

	KafkaBrokers []string
	KafkaTopic   string

	Engine   exchange.Config
	MaxSteps int

	MaxMarketExposure uint64
	MaxGroupExposure  uint64

	Operators exchange.AllowList
}

func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		Port:        getenv("PORT"),
		DatabaseURL: getenv("DATABASE_URL"),
		RedisURL:    getenv("REDIS_URL"),
		PebbleDir:   getenv("PEBBLE_DIR"),
		KafkaTopic:  getenv("KAFKA_TOPIC"),
		Operators:   exchange.AllowList{},
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "exchange-events"
	}
	cfg.KafkaBrokers = splitList(getenv("KAFKA_BROKERS"))
	for _, op := range splitList(getenv("OPERATORS")) {
		cfg.Operators[op] = true
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"MATCHES_PER_CALL", &cfg.Engine.MatchesPerCall},
		{"REQUEST_QUEUE_CAPACITY", &cfg.Engine.RequestQueueCapacity},
		{"MATCHING_QUEUE_CAPACITY", &cfg.Engine.MatchingQueueCapacity},
		{"POOL_CAPACITY", &cfg.Engine.PoolCapacity},
		{"BOOK_CAPACITY", &cfg.Engine.BookCapacity},
		{"PRODUCT_CAP", &cfg.Engine.ProductCap},
		{"MAX_MATCH_STEPS", &cfg.MaxSteps},
	}
	for _, f := range ints {
		v := getenv(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return config{}, fmt.Errorf("%s must be a positive integer, got %q", f.name, v)
		}
		*f.dst = n
	}

	u64s := []struct {
		name string
		dst  *uint64
	}{
		{"MAX_MARKET_EXPOSURE", &cfg.MaxMarketExposure},
		{"MAX_GROUP_EXPOSURE", &cfg.MaxGroupExposure},
	}
	for _, f := range u64s {
		v := getenv(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return config{}, fmt.Errorf("%s must be an unsigned integer, got %q", f.name, v)
		}
		*f.dst = n
	}
	return cfg, nil
}

func loadConfigFromEnv() (config, error) { return loadConfig(os.Getenv) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
