package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windriver/studio-mcp/internal/observability"
)

func TestNewConfigWatcher(t *testing.T) {
	logger := observability.NewNoopLogger()

	t.Run("Success", func(t *testing.T) {
		tmpFile := createTempConfigFile(t, getValidConfigYAML())

		watcher, err := NewConfigWatcher(tmpFile, logger)
		require.NoError(t, err)
		require.NotNil(t, watcher)
		defer func() { _ = watcher.Stop() }()

		assert.Equal(t, tmpFile, watcher.configFile)
		assert.NotNil(t, watcher.config)
		assert.NotNil(t, watcher.watcher)
	})

	t.Run("NonexistentFile", func(t *testing.T) {
		watcher, err := NewConfigWatcher("/nonexistent/config.yaml", logger)
		assert.Error(t, err)
		assert.Nil(t, watcher)
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		tmpFile := createTempConfigFile(t, "invalid: yaml: content:")

		watcher, err := NewConfigWatcher(tmpFile, logger)
		assert.Error(t, err)
		assert.Nil(t, watcher)
	})
}

func TestConfigWatcher_GetConfig(t *testing.T) {
	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	cfg := watcher.GetConfig()
	assert.NotNil(t, cfg)
	assert.Equal(t, 8084, cfg.Server.Port)
}

func TestConfigWatcher_RegisterCallback(t *testing.T) {
	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	callbackCalled := false
	watcher.RegisterCallback(func(oldConfig, newConfig *Config) error {
		callbackCalled = true
		return nil
	})

	newYAML := `
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(tmpFile, []byte(newYAML), 0644))

	require.NoError(t, watcher.ForceReload())
	assert.True(t, callbackCalled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"InvalidPort_TooLow", func(c *Config) { c.Server.Port = 0 }, true},
		{"InvalidPort_TooHigh", func(c *Config) { c.Server.Port = 70000 }, true},
		{"NegativeGlobalRPS", func(c *Config) { c.RateLimit.GlobalRPS = -1 }, true},
		{"NegativeClientRPS", func(c *Config) { c.RateLimit.ClientRPS = -1 }, true},
		{"NegativeToolRPS", func(c *Config) { c.RateLimit.ToolRPS = -1 }, true},
		{"ZeroStudioTimeout", func(c *Config) { c.Studio.Timeout = 0 }, true},
		{"UnknownLogLevel", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"UnknownTracingExporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"BadSampleRatio", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRatio = 2 }, true},
		{"ZeroCacheBudget", func(c *Config) { c.Cache.MaxMemoryMB = 0 }, true},
		{"BadEvictionThreshold", func(c *Config) { c.Cache.EvictionThreshold = 1.5 }, true},
		{"DisabledCacheSkipsChecks", func(c *Config) { c.Cache.Enabled = false; c.Cache.MaxMemoryMB = 0 }, false},
		{"RedisWithoutAddr", func(c *Config) { c.Cache.RedisEnabled = true; c.Cache.RedisAddr = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigWatcher_DetectChanges(t *testing.T) {
	oldConfig := Default()
	oldConfig.Server.Port = 8084
	oldConfig.Auth.APIKey = "old-key"
	oldConfig.Studio.URL = "http://old-url"
	oldConfig.Studio.APIKey = "old-api-key"
	oldConfig.RateLimit.GlobalRPS = 100
	oldConfig.RateLimit.ClientRPS = 50
	oldConfig.RateLimit.ToolRPS = 25
	oldConfig.Cache.MaxMemoryMB = 100

	newConfig := Default()
	newConfig.Server.Port = 9090
	newConfig.Auth.APIKey = "new-key"
	newConfig.Studio.URL = "http://new-url"
	newConfig.Studio.APIKey = "new-api-key"
	newConfig.RateLimit.GlobalRPS = 200
	newConfig.RateLimit.ClientRPS = 100
	newConfig.RateLimit.ToolRPS = 50
	newConfig.Cache.MaxMemoryMB = 200
	newConfig.Cache.DynamicTTL = 30 * time.Second

	changes := detectChanges(oldConfig, newConfig)
	assert.Len(t, changes, 9)

	changeFields := make(map[string]bool)
	for _, change := range changes {
		changeFields[change.Field] = true
	}

	assert.True(t, changeFields["Server.Port"])
	assert.True(t, changeFields["Auth.APIKey"])
	assert.True(t, changeFields["Studio.URL"])
	assert.True(t, changeFields["Studio.APIKey"])
	assert.True(t, changeFields["RateLimit.GlobalRPS"])
	assert.True(t, changeFields["RateLimit.ClientRPS"])
	assert.True(t, changeFields["RateLimit.ToolRPS"])
	assert.True(t, changeFields["Cache.MaxMemoryMB"])
	assert.True(t, changeFields["Cache.DynamicTTL"])

	// Secrets never carry their values into the change log.
	for _, change := range changes {
		if change.Field == "Auth.APIKey" || change.Field == "Studio.APIKey" {
			assert.Equal(t, "[REDACTED]", change.OldValue)
			assert.Equal(t, "[REDACTED]", change.NewValue)
		}
	}
}

func TestConfigWatcher_DetectChanges_NoChanges(t *testing.T) {
	config := Default()
	changes := detectChanges(config, config)
	assert.Len(t, changes, 0)
}

func TestConfigWatcher_ReloadConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file watch test in short mode")
	}

	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	var mu sync.Mutex
	callbackCount := 0
	var lastOldConfig, lastNewConfig *Config

	watcher.RegisterCallback(func(oldConfig, newConfig *Config) error {
		mu.Lock()
		defer mu.Unlock()
		callbackCount++
		lastOldConfig = oldConfig
		lastNewConfig = newConfig
		return nil
	})

	newYAML := `
server:
  port: 9090
auth:
  api_key: "new-test-key"
studio:
  url: "http://new-studio"
  api_key: "new-api-key"
rate_limit:
  global_rps: 2000
  client_rps: 200
  tool_rps: 100
`
	require.NoError(t, os.WriteFile(tmpFile, []byte(newYAML), 0644))

	require.NoError(t, watcher.ForceReload())

	cfg := watcher.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port)

	mu.Lock()
	assert.Equal(t, 1, callbackCount)
	assert.NotNil(t, lastOldConfig)
	assert.NotNil(t, lastNewConfig)
	assert.Equal(t, 8084, lastOldConfig.Server.Port)
	assert.Equal(t, 9090, lastNewConfig.Server.Port)
	mu.Unlock()
}

func TestConfigWatcher_ReloadConfig_ValidationError(t *testing.T) {
	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	invalidYAML := `
server:
  port: 70000
`
	require.NoError(t, os.WriteFile(tmpFile, []byte(invalidYAML), 0644))

	err = watcher.ForceReload()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	// Config remains unchanged after a failed reload.
	cfg := watcher.GetConfig()
	assert.Equal(t, 8084, cfg.Server.Port)
}

func TestConfigWatcher_CallbackError(t *testing.T) {
	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	watcher.RegisterCallback(func(oldConfig, newConfig *Config) error {
		return assert.AnError
	})

	newYAML := `
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(tmpFile, []byte(newYAML), 0644))

	err = watcher.ForceReload()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "callback failed")
}

func TestConfigWatcher_WatchLoop(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping watch loop test in short mode")
	}

	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	watcher.SetDebounceTime(100 * time.Millisecond)

	var mu sync.Mutex
	reloadCount := 0

	watcher.RegisterCallback(func(oldConfig, newConfig *Config) error {
		mu.Lock()
		defer mu.Unlock()
		reloadCount++
		return nil
	})

	watcher.Start()
	time.Sleep(100 * time.Millisecond)

	newYAML := `
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(tmpFile, []byte(newYAML), 0644))

	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	assert.Greater(t, reloadCount, 0)
	mu.Unlock()

	cfg := watcher.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestConfigWatcher_Stop(t *testing.T) {
	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)

	watcher.Start()
	assert.NoError(t, watcher.Stop())
}

func TestConfigWatcher_ConcurrentAccess(t *testing.T) {
	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg := watcher.GetConfig()
			assert.NotNil(t, cfg)
		}()
	}

	wg.Wait()
}

func TestLoad(t *testing.T) {
	t.Run("ValidYAML", func(t *testing.T) {
		tmpFile := createTempConfigFile(t, getValidConfigYAML())

		cfg, err := Load(tmpFile)
		require.NoError(t, err)
		assert.Equal(t, 8084, cfg.Server.Port)
		assert.Equal(t, "http://localhost:8080", cfg.Studio.URL)
		// File values merge over defaults.
		assert.Equal(t, 30*time.Second, cfg.Studio.Timeout)
		assert.True(t, cfg.Cache.Enabled)
	})

	t.Run("NoFile", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default().Server.Port, cfg.Server.Port)
	})

	t.Run("NonexistentFile", func(t *testing.T) {
		cfg, err := Load("/nonexistent/config.yaml")
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		tmpFile := createTempConfigFile(t, "invalid: yaml: content:")

		cfg, err := Load(tmpFile)
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})
}

func TestMergeWithEnv(t *testing.T) {
	t.Setenv("STUDIO_MCP_API_KEY", "env-api-key")
	t.Setenv("STUDIO_URL", "http://env-url")
	t.Setenv("STUDIO_MCP_GLOBAL_RPS", "5000")
	t.Setenv("STUDIO_MCP_CACHE_MAX_MEMORY_MB", "250")
	t.Setenv("STUDIO_MCP_CACHE_MAX_ITEMS_PER_TYPE", "500")
	t.Setenv("STUDIO_MCP_CACHE_FILTER_SENSITIVE", "no")

	cfg := Default()
	cfg.Auth.APIKey = "file-api-key"
	cfg.Studio.URL = "http://file-url"
	cfg.RateLimit.GlobalRPS = 1000

	mergeWithEnv(cfg)

	// Environment overrides file values.
	assert.Equal(t, "env-api-key", cfg.Auth.APIKey)
	assert.Equal(t, "http://env-url", cfg.Studio.URL)
	assert.Equal(t, 5000, cfg.RateLimit.GlobalRPS)
	assert.Equal(t, int64(250), cfg.Cache.MaxMemoryMB)
	assert.Equal(t, 500, cfg.Cache.MaxItemsPerTier)
	assert.False(t, cfg.Cache.FilterSensitive)
}

func TestCacheConfigValidateItemCap(t *testing.T) {
	cfg := DefaultCacheConfig()
	assert.NoError(t, cfg.Validate())

	cfg.MaxItemsPerTier = 0
	assert.Error(t, cfg.Validate())

	cfg.MaxItemsPerTier = 5
	cfg.MinEntriesPerTier = 10
	assert.Error(t, cfg.Validate())
}

func TestCacheConfigPresets(t *testing.T) {
	dev := DevelopmentCacheConfig()
	assert.NoError(t, dev.Validate())
	assert.Less(t, dev.DynamicTTL, DefaultCacheConfig().DynamicTTL)

	tst := TestingCacheConfig()
	assert.NoError(t, tst.Validate())
	assert.Equal(t, time.Duration(0), tst.SweepInterval)
	assert.False(t, tst.RedisEnabled)
}

func TestConfigWatcher_SetDebounceTime(t *testing.T) {
	tmpFile := createTempConfigFile(t, getValidConfigYAML())

	watcher, err := NewConfigWatcher(tmpFile, observability.NewNoopLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	watcher.SetDebounceTime(1 * time.Second)
	assert.Equal(t, 1*time.Second, watcher.debounceTime)
}

// Helper functions

func createTempConfigFile(t *testing.T, content string) string {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	return tmpFile
}

func getValidConfigYAML() string {
	return `
server:
  port: 8084
auth:
  api_key: "test-api-key"
studio:
  url: "http://localhost:8080"
  api_key: "test-studio-api-key"
rate_limit:
  global_rps: 1000
  global_burst: 2000
  client_rps: 100
  client_burst: 200
  tool_rps: 50
  tool_burst: 100
cache:
  enabled: true
  max_memory_mb: 100
  eviction_threshold: 0.9
`
}
