package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the studio-mcp server configuration. Values come from the
// optional YAML file, overridden by STUDIO_MCP_* environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Studio    StudioConfig    `yaml:"studio"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port int `yaml:"port"`

	// Stdio runs the MCP protocol over stdin/stdout instead of the
	// WebSocket listener. Logs are suppressed in this mode so protocol
	// frames stay clean.
	Stdio bool `yaml:"stdio"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// StudioConfig points at the Wind River Studio API backing this server.
type StudioConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	Environment string        `yaml:"environment"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	GlobalRPS   int `yaml:"global_rps"`
	GlobalBurst int `yaml:"global_burst"`

	ClientRPS   int `yaml:"client_rps"`
	ClientBurst int `yaml:"client_burst"`

	ToolRPS   int `yaml:"tool_rps"`
	ToolBurst int `yaml:"tool_burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig represents distributed tracing configuration
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp or zipkin
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load loads configuration from an optional YAML file with environment
// overrides applied on top.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		cleanPath := filepath.Clean(configFile)
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file does not exist: %s", cleanPath)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	mergeWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:  8084,
			Stdio: false,
		},
		Auth: AuthConfig{
			APIKey: "",
		},
		Studio: StudioConfig{
			URL:         "",
			APIKey:      "",
			Timeout:     30 * time.Second,
			Environment: "production",
		},
		Cache: DefaultCacheConfig(),
		RateLimit: RateLimitConfig{
			GlobalRPS:   1000,
			GlobalBurst: 2000,
			ClientRPS:   100,
			ClientBurst: 200,
			ToolRPS:     50,
			ToolBurst:   100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "otlp",
			Endpoint:    "localhost:4317",
			SampleRatio: 0.1,
		},
	}
}

// Validate checks the whole configuration. A failure here is fatal at
// startup; the server refuses to run on a bad config.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid configuration: server port %d out of range", c.Server.Port)
	}
	if c.Studio.Timeout <= 0 {
		return fmt.Errorf("invalid configuration: studio timeout must be positive")
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.ClientRPS < 0 || c.RateLimit.ToolRPS < 0 {
		return fmt.Errorf("invalid configuration: rate limits must be non-negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("invalid configuration: unknown log level %q", c.Logging.Level)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "zipkin":
		default:
			return fmt.Errorf("invalid configuration: unknown tracing exporter %q", c.Tracing.Exporter)
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("invalid configuration: tracing sample ratio must be in [0,1]")
		}
	}
	return c.Cache.Validate()
}

// mergeWithEnv merges configuration with environment variables.
// Environment variables take precedence over file values.
func mergeWithEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("STUDIO_MCP_PORT", cfg.Server.Port)
	cfg.Server.Stdio = getEnvBool("STUDIO_MCP_STDIO", cfg.Server.Stdio)

	cfg.Auth.APIKey = getEnvString("STUDIO_MCP_API_KEY", cfg.Auth.APIKey)

	cfg.Studio.URL = getEnvString("STUDIO_URL", cfg.Studio.URL)
	cfg.Studio.APIKey = getEnvString("STUDIO_API_KEY", cfg.Studio.APIKey)
	cfg.Studio.Timeout = getEnvDuration("STUDIO_TIMEOUT", cfg.Studio.Timeout)
	cfg.Studio.Environment = getEnvString("STUDIO_ENVIRONMENT", cfg.Studio.Environment)

	cfg.RateLimit.GlobalRPS = getEnvInt("STUDIO_MCP_GLOBAL_RPS", cfg.RateLimit.GlobalRPS)
	cfg.RateLimit.ClientRPS = getEnvInt("STUDIO_MCP_CLIENT_RPS", cfg.RateLimit.ClientRPS)
	cfg.RateLimit.ToolRPS = getEnvInt("STUDIO_MCP_TOOL_RPS", cfg.RateLimit.ToolRPS)

	cfg.Logging.Level = getEnvString("STUDIO_MCP_LOG_LEVEL", cfg.Logging.Level)

	cfg.Tracing.Enabled = getEnvBool("STUDIO_MCP_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnvString("STUDIO_MCP_TRACING_ENDPOINT", cfg.Tracing.Endpoint)

	mergeCacheEnv(&cfg.Cache)
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		// Handle common yes/no strings explicitly
		switch value {
		case "yes", "Yes", "YES", "y", "Y":
			return true
		case "no", "No", "NO", "n", "N":
			return false
		}
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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
