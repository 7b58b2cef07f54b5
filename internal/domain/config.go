package domain

import (
	"fmt"
	"math"
	"time"
)

// RiskModelConfig holds the tunable parameters for the risk scoring models.
type RiskModelConfig struct {
	ModelName    string    `json:"model_name" mapstructure:"model_name"`
	ModelVersion string    `json:"model_version" mapstructure:"model_version"`
	LastUpdated  time.Time `json:"last_updated" mapstructure:"last_updated"`

	BreakRiskThresholds       map[string]float64 `json:"break_risk_thresholds" mapstructure:"break_risk_thresholds"`
	AbandonmentRiskThresholds map[string]float64 `json:"abandonment_risk_thresholds" mapstructure:"abandonment_risk_thresholds"`

	DriverWeights map[string]float64 `json:"driver_weights" mapstructure:"driver_weights"`

	MinConfidenceThreshold float64 `json:"min_confidence_threshold" mapstructure:"min_confidence_threshold"`
}

// DefaultRiskModelConfig returns the production default model parameters.
func DefaultRiskModelConfig() *RiskModelConfig {
	return &RiskModelConfig{
		ModelName:    "bundle-risk-scorer",
		ModelVersion: RiskModelVersion,
		LastUpdated:  time.Now().UTC(),
		BreakRiskThresholds: map[string]float64{
			"low":    0.3,
			"medium": 0.6,
			"high":   0.8,
		},
		AbandonmentRiskThresholds: map[string]float64{
			"low":    0.3,
			"medium": 0.6,
			"high":   0.8,
		},
		DriverWeights: map[string]float64{
			"timing_misalignment":  0.3,
			"pa_processing_delay":  0.25,
			"oos_disruption":       0.2,
			"stage_aging":          0.15,
			"bundle_fragmentation": 0.1,
		},
		MinConfidenceThreshold: 0.7,
	}
}

// Validate checks threshold ranges and that driver weights sum to 1.0 within
// rounding tolerance.
func (c *RiskModelConfig) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name is required", ErrInvalidConfig)
	}
	for name, thresholds := range map[string]map[string]float64{
		"break_risk_thresholds":       c.BreakRiskThresholds,
		"abandonment_risk_thresholds": c.AbandonmentRiskThresholds,
	} {
		for key, value := range thresholds {
			if value < 0 || value > 1 {
				return fmt.Errorf("%w: %s[%s] must be between 0 and 1, got %v", ErrInvalidConfig, name, key, value)
			}
		}
	}

	total := 0.0
	for _, w := range c.DriverWeights {
		total += w
	}
	if math.Abs(total-1.0) > 0.01 {
		return fmt.Errorf("%w: driver weights must sum to 1.0, got %v", ErrInvalidConfig, total)
	}

	if c.MinConfidenceThreshold < 0 || c.MinConfidenceThreshold > 1 {
		return fmt.Errorf("%w: min_confidence_threshold must be between 0 and 1, got %v", ErrInvalidConfig, c.MinConfidenceThreshold)
	}
	return nil
}

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Audit     AuditConfig     `mapstructure:"audit"`
	RiskModel RiskModelConfig `mapstructure:"risk_model"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	RedisURL     string        `mapstructure:"redis_url"`
	RedisEnabled bool          `mapstructure:"redis_enabled"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	LocalSize    int           `mapstructure:"local_size"`
	PoolSize     int           `mapstructure:"pool_size"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// AuditConfig holds audit trail forwarding configuration
type AuditConfig struct {
	ForwardURL     string        `mapstructure:"forward_url"`
	ForwardTimeout time.Duration `mapstructure:"forward_timeout"`
}
