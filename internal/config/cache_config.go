package config

import (
	"fmt"
	"time"
)

// CacheConfig configures the tiered response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Memory budget across all tiers, in megabytes.
	MaxMemoryMB int64 `yaml:"max_memory_mb" json:"max_memory_mb"`

	// Fraction of the budget at which eviction begins.
	EvictionThreshold float64 `yaml:"eviction_threshold" json:"eviction_threshold"`

	// Minimum entries eviction leaves in each tier.
	MinEntriesPerTier int `yaml:"min_entries_per_tier" json:"min_entries_per_tier"`

	// Maximum entries a single tier holds; inserting past the cap
	// evicts that tier's oldest entry regardless of memory pressure.
	MaxItemsPerTier int `yaml:"max_items_per_type" json:"max_items_per_type"`

	// Per-tier TTLs. Zero values use the built-in tier defaults.
	DynamicTTL     time.Duration `yaml:"dynamic_ttl" json:"dynamic_ttl"`
	SemiDynamicTTL time.Duration `yaml:"semi_dynamic_ttl" json:"semi_dynamic_ttl"`
	CompletedTTL   time.Duration `yaml:"completed_ttl" json:"completed_ttl"`
	ImmutableTTL   time.Duration `yaml:"immutable_ttl" json:"immutable_ttl"`

	// FilterSensitive redacts credential material from payloads before
	// they are cached.
	FilterSensitive bool `yaml:"filter_sensitive" json:"filter_sensitive"`

	// SweepInterval controls the background expiry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// Optional Redis second level for the stable tiers.
	RedisEnabled        bool          `yaml:"redis_enabled" json:"redis_enabled"`
	RedisAddr           string        `yaml:"redis_addr" json:"redis_addr"` // host:port format
	RedisPassword       string        `yaml:"redis_password" json:"redis_password"`
	RedisDB             int           `yaml:"redis_db" json:"redis_db"`
	RedisConnectTimeout time.Duration `yaml:"redis_connect_timeout" json:"redis_connect_timeout"`
	RedisFallbackMode   bool          `yaml:"redis_fallback_mode" json:"redis_fallback_mode"`

	// Compression of remote payloads.
	EnableCompression    bool `yaml:"enable_compression" json:"enable_compression"`
	CompressionThreshold int  `yaml:"compression_threshold" json:"compression_threshold"`
}

// DefaultCacheConfig returns the production cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:              true,
		MaxMemoryMB:          100,
		EvictionThreshold:    0.9,
		MinEntriesPerTier:    10,
		MaxItemsPerTier:      1000,
		DynamicTTL:           60 * time.Second,
		SemiDynamicTTL:       10 * time.Minute,
		CompletedTTL:         24 * time.Hour,
		ImmutableTTL:         1 * time.Hour,
		FilterSensitive:      true,
		SweepInterval:        30 * time.Second,
		RedisEnabled:         false,
		RedisAddr:            "localhost:6379",
		RedisPassword:        "",
		RedisDB:              0,
		RedisConnectTimeout:  5 * time.Second,
		RedisFallbackMode:    true,
		EnableCompression:    true,
		CompressionThreshold: 1024,
	}
}

// DevelopmentCacheConfig shortens TTLs and shrinks the budget for local
// iteration against a changing backend.
func DevelopmentCacheConfig() CacheConfig {
	cfg := DefaultCacheConfig()
	cfg.MaxMemoryMB = 25
	cfg.DynamicTTL = 10 * time.Second
	cfg.SemiDynamicTTL = 1 * time.Minute
	cfg.CompletedTTL = 10 * time.Minute
	cfg.ImmutableTTL = 5 * time.Minute
	return cfg
}

// TestingCacheConfig disables background activity and the remote level
// so tests stay deterministic.
func TestingCacheConfig() CacheConfig {
	cfg := DefaultCacheConfig()
	cfg.MaxMemoryMB = 10
	cfg.MinEntriesPerTier = 1
	cfg.SweepInterval = 0
	cfg.RedisEnabled = false
	return cfg
}

// Validate checks cache configuration consistency.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxMemoryMB <= 0 {
		return fmt.Errorf("invalid configuration: cache max memory must be positive, got %dMB", c.MaxMemoryMB)
	}
	if c.EvictionThreshold <= 0 || c.EvictionThreshold > 1 {
		return fmt.Errorf("invalid configuration: cache eviction threshold must be in (0,1], got %v", c.EvictionThreshold)
	}
	if c.MinEntriesPerTier < 0 {
		return fmt.Errorf("invalid configuration: cache min entries per tier must be non-negative")
	}
	if c.MaxItemsPerTier <= 0 {
		return fmt.Errorf("invalid configuration: cache max items per type must be positive, got %d", c.MaxItemsPerTier)
	}
	if c.MinEntriesPerTier > c.MaxItemsPerTier {
		return fmt.Errorf("invalid configuration: cache min entries per tier %d exceeds max items per type %d",
			c.MinEntriesPerTier, c.MaxItemsPerTier)
	}
	if c.DynamicTTL < 0 || c.SemiDynamicTTL < 0 || c.CompletedTTL < 0 || c.ImmutableTTL < 0 {
		return fmt.Errorf("invalid configuration: cache TTLs must be non-negative")
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		return fmt.Errorf("invalid configuration: redis enabled but no address given")
	}
	return nil
}

// mergeCacheEnv applies STUDIO_MCP_CACHE_* environment overrides.
func mergeCacheEnv(cfg *CacheConfig) {
	cfg.Enabled = getEnvBool("STUDIO_MCP_CACHE_ENABLED", cfg.Enabled)
	cfg.MaxMemoryMB = getEnvInt64("STUDIO_MCP_CACHE_MAX_MEMORY_MB", cfg.MaxMemoryMB)
	cfg.EvictionThreshold = getEnvFloat("STUDIO_MCP_CACHE_EVICTION_THRESHOLD", cfg.EvictionThreshold)
	cfg.MinEntriesPerTier = getEnvInt("STUDIO_MCP_CACHE_MIN_ENTRIES_PER_TIER", cfg.MinEntriesPerTier)
	cfg.MaxItemsPerTier = getEnvInt("STUDIO_MCP_CACHE_MAX_ITEMS_PER_TYPE", cfg.MaxItemsPerTier)

	cfg.DynamicTTL = getEnvDuration("STUDIO_MCP_CACHE_DYNAMIC_TTL", cfg.DynamicTTL)
	cfg.SemiDynamicTTL = getEnvDuration("STUDIO_MCP_CACHE_SEMI_DYNAMIC_TTL", cfg.SemiDynamicTTL)
	cfg.CompletedTTL = getEnvDuration("STUDIO_MCP_CACHE_COMPLETED_TTL", cfg.CompletedTTL)
	cfg.ImmutableTTL = getEnvDuration("STUDIO_MCP_CACHE_IMMUTABLE_TTL", cfg.ImmutableTTL)

	cfg.FilterSensitive = getEnvBool("STUDIO_MCP_CACHE_FILTER_SENSITIVE", cfg.FilterSensitive)
	cfg.SweepInterval = getEnvDuration("STUDIO_MCP_CACHE_SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.RedisEnabled = getEnvBool("STUDIO_MCP_REDIS_ENABLED", cfg.RedisEnabled)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("STUDIO_MCP_REDIS_DB", cfg.RedisDB)
	cfg.RedisConnectTimeout = getEnvDuration("STUDIO_MCP_REDIS_CONNECT_TIMEOUT", cfg.RedisConnectTimeout)
	cfg.RedisFallbackMode = getEnvBool("STUDIO_MCP_REDIS_FALLBACK_MODE", cfg.RedisFallbackMode)

	cfg.EnableCompression = getEnvBool("STUDIO_MCP_ENABLE_COMPRESSION", cfg.EnableCompression)
	cfg.CompressionThreshold = getEnvInt("STUDIO_MCP_COMPRESSION_THRESHOLD", cfg.CompressionThreshold)
}
