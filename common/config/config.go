package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service ServiceConfig
	Engine  EngineConfig
	Bridge  BridgeConfig
}

// ServiceConfig holds service-specific settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// EngineConfig holds interpreter runtime knobs.
type EngineConfig struct {
	ExecutionTimeout    time.Duration
	DefaultPauseTimeout time.Duration
}

// BridgeConfig holds event-bridge fan-out knobs.
type BridgeConfig struct {
	LaneMaxBuffer int
	EvictGrace    time.Duration
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Engine: EngineConfig{
			ExecutionTimeout:    getEnvDuration("EXECUTION_TIMEOUT", time.Minute),
			DefaultPauseTimeout: getEnvDuration("DEFAULT_PAUSE_TIMEOUT", 0), // 0 disables the timer
		},
		Bridge: BridgeConfig{
			LaneMaxBuffer: getEnvInt("BRIDGE_LANE_MAX_BUFFER", 1024),
			EvictGrace:    getEnvDuration("BRIDGE_EVICT_GRACE", 5*time.Second),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Engine.ExecutionTimeout <= 0 {
		return fmt.Errorf("execution timeout must be positive")
	}
	if c.Bridge.LaneMaxBuffer <= 0 {
		return fmt.Errorf("bridge lane max buffer must be positive")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
