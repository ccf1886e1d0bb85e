// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCHealthPort string // empty disables the gRPC health listener
	FrontendURL    string
	DBPath         string
	Region         string

	Gateway   GatewayConfig
	Model     ModelConfig
	Memory    MemoryConfig
	Session   SessionConfig
	RateLimit RateLimitConfig

	ActorRetention     time.Duration
	MaxRequestBodySize int64
}

// GatewayConfig locates the remote tool gateway settings in the parameter store
// and names the service account exchanged for a bearer token.
type GatewayConfig struct {
	ParamPrefix     string
	ServiceUser     string
	ServicePassword string
}

// ModelConfig controls the Bedrock model driving the agent.
type ModelConfig struct {
	ID          string
	Temperature float32
	MaxRounds   int
}

// MemoryConfig names the long-term memory resource.
type MemoryConfig struct {
	Name string
}

// SessionConfig bounds the in-process browser session registry.
type SessionConfig struct {
	TTL      time.Duration
	Capacity int
}

// RateLimitConfig throttles chat turns per actor.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// DefaultModelID is the Bedrock inference profile used when MODEL_ID is unset.
const DefaultModelID = "global.anthropic.claude-haiku-4-5-20251001-v1:0"

// DefaultServicePassword is the gateway service password used when
// GATEWAY_SERVICE_PASSWORD is unset. It is only meant for development.
const DefaultServicePassword = "Test123!@#"

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", "9090"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/jami.db"),
		Region:         getEnv("AWS_DEFAULT_REGION", "us-east-1"),
		Gateway: GatewayConfig{
			ParamPrefix:     strings.TrimRight(getEnv("PARAM_PREFIX", "/jamar/agentcore"), "/"),
			ServiceUser:     getEnv("GATEWAY_SERVICE_USER", "test-gateway-user"),
			ServicePassword: getEnv("GATEWAY_SERVICE_PASSWORD", DefaultServicePassword),
		},
		Model: ModelConfig{
			ID:          getEnv("MODEL_ID", DefaultModelID),
			Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.2),
			MaxRounds:   getEnvInt("MODEL_MAX_ROUNDS", 8),
		},
		Memory: MemoryConfig{
			Name: getEnv("MEMORY_NAME", "ShopifySalesAgentMemory"),
		},
		Session: SessionConfig{
			TTL:      getEnvDuration("SESSION_TTL", 2*time.Hour),
			Capacity: getEnvInt("SESSION_CAPACITY", 10000),
		},
		RateLimit: RateLimitConfig{
			PerMinute: getEnvInt("CHAT_RATE_PER_MINUTE", 20),
			Burst:     getEnvInt("CHAT_RATE_BURST", 5),
		},
		ActorRetention:     getEnvDuration("ACTOR_RETENTION", 30*24*time.Hour),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Region == "" {
		return fmt.Errorf("AWS_DEFAULT_REGION cannot be empty")
	}
	if c.Gateway.ParamPrefix == "" {
		return fmt.Errorf("PARAM_PREFIX cannot be empty")
	}
	if c.Gateway.ServiceUser == "" || c.Gateway.ServicePassword == "" {
		return fmt.Errorf("GATEWAY_SERVICE_USER and GATEWAY_SERVICE_PASSWORD must be set")
	}
	if c.Model.ID == "" {
		return fmt.Errorf("MODEL_ID cannot be empty")
	}
	if c.Model.MaxRounds <= 0 {
		return fmt.Errorf("MODEL_MAX_ROUNDS must be > 0")
	}
	if c.Memory.Name == "" {
		return fmt.Errorf("MEMORY_NAME cannot be empty")
	}
	if c.Session.Capacity <= 0 {
		return fmt.Errorf("SESSION_CAPACITY must be > 0")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("CHAT_RATE_PER_MINUTE and CHAT_RATE_BURST must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.Gateway.UsesDefaultPassword() && !c.IsDevelopment() {
		slog.Warn("GATEWAY_SERVICE_PASSWORD is unset, using the built-in development password",
			"frontend_url", c.FrontendURL)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// UsesDefaultPassword reports whether the service password is the built-in
// default.
func (g GatewayConfig) UsesDefaultPassword() bool {
	return g.ServicePassword == DefaultServicePassword
}

// ParamName returns the fully qualified parameter-store key for name.
func (g GatewayConfig) ParamName(name string) string {
	return g.ParamPrefix + "/" + name
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat32(key string, fallback float32) float32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
