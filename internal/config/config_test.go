package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refill-risk-engine/internal/domain"
)

func TestNewManagerDefaults(t *testing.T) {
	manager, err := NewManager()
	require.NoError(t, err)

	cfg := manager.GetConfig()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.False(t, cfg.Cache.RedisEnabled)
	assert.Equal(t, 1024, cfg.Cache.LocalSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "refill-risk-model", cfg.RiskModel.ModelName)

	assert.NoError(t, manager.Validate())
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("REFILL_RISK_SERVER_PORT", "9090")
	t.Setenv("REFILL_RISK_LOGGING_LEVEL", "debug")

	manager, err := NewManager()
	require.NoError(t, err)

	cfg := manager.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, manager.IsDevelopment())
}

func validConfig() *domain.Config {
	return &domain.Config{
		Server:    domain.ServerConfig{Host: "0.0.0.0", Port: 8080},
		Cache:     domain.CacheConfig{RedisURL: "redis://localhost:6379", LocalSize: 1024},
		Logging:   domain.LoggingConfig{Level: "info", Format: "json"},
		RiskModel: *domain.DefaultRiskModelConfig(),
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	manager := &Manager{config: cfg}
	assert.Error(t, manager.Validate())
}

func TestValidateRequiresRedisURLWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.RedisEnabled = true
	cfg.Cache.RedisURL = ""

	manager := &Manager{config: cfg}
	assert.Error(t, manager.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"

	manager := &Manager{config: cfg}
	assert.Error(t, manager.Validate())
}

func TestGetRedisConnectionString(t *testing.T) {
	t.Setenv("REFILL_RISK_CACHE_REDIS_URL", "redis://cache.internal:6379")

	manager, err := NewManager()
	require.NoError(t, err)
	assert.Equal(t, "redis://cache.internal:6379", manager.GetRedisConnectionString())
}
