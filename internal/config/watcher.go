package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/windriver/studio-mcp/internal/observability"
)

// ConfigWatcher watches the configuration file for changes and reloads
// it with validation and per-field change reporting. Callbacks decide
// what to do with each reload; a callback error aborts the swap.
type ConfigWatcher struct {
	configFile   string
	config       *Config
	configMu     sync.RWMutex
	watcher      *fsnotify.Watcher
	logger       observability.Logger
	callbacks    []ReloadCallback
	callbacksMu  sync.RWMutex
	debounceTime time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
}

// ReloadCallback is called when configuration is reloaded
type ReloadCallback func(oldConfig, newConfig *Config) error

// ConfigChange represents a configuration change
type ConfigChange struct {
	Field    string
	OldValue interface{}
	NewValue interface{}
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configFile string, logger observability.Logger) (*ConfigWatcher, error) {
	cfg, err := Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(configFile); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	cw := &ConfigWatcher{
		configFile:   configFile,
		config:       cfg,
		watcher:      watcher,
		logger:       logger,
		callbacks:    make([]ReloadCallback, 0),
		debounceTime: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}

	return cw, nil
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *Config {
	cw.configMu.RLock()
	defer cw.configMu.RUnlock()
	return cw.config
}

// RegisterCallback registers a callback to be called when configuration is reloaded
func (cw *ConfigWatcher) RegisterCallback(callback ReloadCallback) {
	cw.callbacksMu.Lock()
	defer cw.callbacksMu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Start starts watching the configuration file for changes
func (cw *ConfigWatcher) Start() {
	go cw.watchLoop()
	cw.logger.Info("Configuration watcher started", map[string]interface{}{
		"config_file": cw.configFile,
	})
}

// Stop stops watching the configuration file
func (cw *ConfigWatcher) Stop() error {
	cw.cancel()
	if cw.watcher != nil {
		return cw.watcher.Close()
	}
	return nil
}

func (cw *ConfigWatcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-cw.ctx.Done():
			cw.logger.Info("Configuration watcher stopped", nil)
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				// Debounce rapid file changes (e.g., from text editors)
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(cw.debounceTime, func() {
					if err := cw.reloadConfig(); err != nil {
						cw.logger.Error("Failed to reload configuration", map[string]interface{}{
							"error": err.Error(),
						})
					}
				})
			}

			// Some editors delete and recreate on save.
			if event.Op&fsnotify.Remove == fsnotify.Remove {
				go cw.readdWatchFile()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("Configuration watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// readdWatchFile re-adds the config file to the watcher after it has
// been recreated.
func (cw *ConfigWatcher) readdWatchFile() {
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, err := os.Stat(cw.configFile); err == nil {
			if err := cw.watcher.Add(cw.configFile); err != nil {
				cw.logger.Error("Failed to re-add config file to watcher", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				cw.logger.Info("Re-added config file to watcher", map[string]interface{}{
					"config_file": cw.configFile,
				})
			}
			return
		}
	}
	cw.logger.Error("Config file was not recreated within timeout", map[string]interface{}{
		"config_file": cw.configFile,
	})
}

// reloadConfig reloads the configuration from file
func (cw *ConfigWatcher) reloadConfig() error {
	newConfig, err := Load(cw.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}

	cw.configMu.RLock()
	oldConfig := cw.config
	cw.configMu.RUnlock()

	changes := detectChanges(oldConfig, newConfig)
	if len(changes) == 0 {
		cw.logger.Info("Configuration reloaded with no changes", nil)
		return nil
	}
	cw.logConfigChanges(changes)

	cw.callbacksMu.RLock()
	callbacks := cw.callbacks
	cw.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			return fmt.Errorf("callback failed: %w", err)
		}
	}

	cw.configMu.Lock()
	cw.config = newConfig
	cw.configMu.Unlock()

	cw.logger.Info("Configuration reloaded successfully", map[string]interface{}{
		"changes": len(changes),
	})

	return nil
}

// detectChanges compares the fields operators actually act on. Secrets
// are reported as changed without their values.
func detectChanges(oldCfg, newCfg *Config) []ConfigChange {
	changes := make([]ConfigChange, 0)

	add := func(field string, oldVal, newVal interface{}) {
		changes = append(changes, ConfigChange{Field: field, OldValue: oldVal, NewValue: newVal})
	}

	if oldCfg.Server.Port != newCfg.Server.Port {
		add("Server.Port", oldCfg.Server.Port, newCfg.Server.Port)
	}
	if oldCfg.Auth.APIKey != newCfg.Auth.APIKey {
		add("Auth.APIKey", "[REDACTED]", "[REDACTED]")
	}
	if oldCfg.Studio.URL != newCfg.Studio.URL {
		add("Studio.URL", oldCfg.Studio.URL, newCfg.Studio.URL)
	}
	if oldCfg.Studio.APIKey != newCfg.Studio.APIKey {
		add("Studio.APIKey", "[REDACTED]", "[REDACTED]")
	}
	if oldCfg.RateLimit.GlobalRPS != newCfg.RateLimit.GlobalRPS {
		add("RateLimit.GlobalRPS", oldCfg.RateLimit.GlobalRPS, newCfg.RateLimit.GlobalRPS)
	}
	if oldCfg.RateLimit.ClientRPS != newCfg.RateLimit.ClientRPS {
		add("RateLimit.ClientRPS", oldCfg.RateLimit.ClientRPS, newCfg.RateLimit.ClientRPS)
	}
	if oldCfg.RateLimit.ToolRPS != newCfg.RateLimit.ToolRPS {
		add("RateLimit.ToolRPS", oldCfg.RateLimit.ToolRPS, newCfg.RateLimit.ToolRPS)
	}
	if oldCfg.Cache.Enabled != newCfg.Cache.Enabled {
		add("Cache.Enabled", oldCfg.Cache.Enabled, newCfg.Cache.Enabled)
	}
	if oldCfg.Cache.MaxMemoryMB != newCfg.Cache.MaxMemoryMB {
		add("Cache.MaxMemoryMB", oldCfg.Cache.MaxMemoryMB, newCfg.Cache.MaxMemoryMB)
	}
	if oldCfg.Cache.EvictionThreshold != newCfg.Cache.EvictionThreshold {
		add("Cache.EvictionThreshold", oldCfg.Cache.EvictionThreshold, newCfg.Cache.EvictionThreshold)
	}
	if oldCfg.Cache.FilterSensitive != newCfg.Cache.FilterSensitive {
		add("Cache.FilterSensitive", oldCfg.Cache.FilterSensitive, newCfg.Cache.FilterSensitive)
	}
	if oldCfg.Cache.DynamicTTL != newCfg.Cache.DynamicTTL {
		add("Cache.DynamicTTL", oldCfg.Cache.DynamicTTL, newCfg.Cache.DynamicTTL)
	}
	if oldCfg.Cache.SemiDynamicTTL != newCfg.Cache.SemiDynamicTTL {
		add("Cache.SemiDynamicTTL", oldCfg.Cache.SemiDynamicTTL, newCfg.Cache.SemiDynamicTTL)
	}
	if oldCfg.Cache.CompletedTTL != newCfg.Cache.CompletedTTL {
		add("Cache.CompletedTTL", oldCfg.Cache.CompletedTTL, newCfg.Cache.CompletedTTL)
	}
	if oldCfg.Cache.ImmutableTTL != newCfg.Cache.ImmutableTTL {
		add("Cache.ImmutableTTL", oldCfg.Cache.ImmutableTTL, newCfg.Cache.ImmutableTTL)
	}
	if oldCfg.Logging.Level != newCfg.Logging.Level {
		add("Logging.Level", oldCfg.Logging.Level, newCfg.Logging.Level)
	}

	return changes
}

// logConfigChanges logs configuration changes
func (cw *ConfigWatcher) logConfigChanges(changes []ConfigChange) {
	for _, change := range changes {
		cw.logger.Info("Configuration changed", map[string]interface{}{
			"field":     change.Field,
			"old_value": change.OldValue,
			"new_value": change.NewValue,
		})
	}
}

// ForceReload forces a configuration reload (useful for testing)
func (cw *ConfigWatcher) ForceReload() error {
	return cw.reloadConfig()
}

// SetDebounceTime sets the debounce time for file change events
func (cw *ConfigWatcher) SetDebounceTime(duration time.Duration) {
	cw.debounceTime = duration
}
