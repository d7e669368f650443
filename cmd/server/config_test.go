package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(env(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "exchange-events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.Operators)
	assert.Zero(t, cfg.Engine.MatchesPerCall)
}

func TestLoadConfig_Overrides(t *testing.T) {
	cfg, err := loadConfig(env(map[string]string{
		"PORT":                   "9090",
		"KAFKA_BROKERS":          "k1:9092, k2:9092,",
		"OPERATORS":              "ops,admin",
		"MATCHES_PER_CALL":       "4",
		"REQUEST_QUEUE_CAPACITY": "16",
		"MAX_MARKET_EXPOSURE":    "5000",
		"MAX_GROUP_EXPOSURE":     "20000",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.Operators.Authorized("admin"))
	assert.False(t, cfg.Operators.Authorized("alice"))
	assert.Equal(t, 4, cfg.Engine.MatchesPerCall)
	assert.Equal(t, 16, cfg.Engine.RequestQueueCapacity)
	assert.Equal(t, uint64(5000), cfg.MaxMarketExposure)
	assert.Equal(t, uint64(20000), cfg.MaxGroupExposure)
}

func TestLoadConfig_Invalid(t *testing.T) {
	for _, tc := range []struct{ key, value string }{
		{"MATCHES_PER_CALL", "zero"},
		{"POOL_CAPACITY", "0"},
		{"MAX_MARKET_EXPOSURE", "-1"},
	} {
		_, err := loadConfig(env(map[string]string{tc.key: tc.value}))
		assert.Error(t, err, tc.key)
	}
}
