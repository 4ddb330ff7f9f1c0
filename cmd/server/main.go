package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/windriver/studio-mcp/internal/api"
	"github.com/windriver/studio-mcp/internal/auth"
	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/config"
	"github.com/windriver/studio-mcp/internal/mcp"
	"github.com/windriver/studio-mcp/internal/metrics"
	"github.com/windriver/studio-mcp/internal/middleware"
	"github.com/windriver/studio-mcp/internal/observability"
	"github.com/windriver/studio-mcp/internal/platform"
	"github.com/windriver/studio-mcp/internal/studio"
	"github.com/windriver/studio-mcp/internal/tools"
	"github.com/windriver/studio-mcp/internal/tracing"
)

var commit = "unknown"

func main() {
	var (
		configFile  = flag.String("config", "configs/config.yaml", "Path to configuration file")
		port        = flag.Int("port", 0, "Port to listen on (overrides config)")
		apiKey      = flag.String("api-key", "", "API key for client authentication")
		studioURL   = flag.String("studio-url", "", "Wind River Studio API URL")
		showVersion = flag.Bool("version", false, "Show version information")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		stdioMode   = flag.Bool("stdio", false, "Run the MCP protocol over stdin/stdout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("Studio MCP v%s (commit: %s)\n", platform.Version, commit)
		os.Exit(0)
	}

	logger := observability.NewStandardLogger("studio-mcp")

	// Load configuration. A missing file at the default location means
	// run on defaults plus environment; an invalid configuration is
	// fatal, the server refuses to start on a bad config.
	configPath := *configFile
	if !flagPassed("config") {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = ""
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Configuration error", map[string]interface{}{
			"error": err.Error(),
			"file":  configPath,
		})
	}

	// Command line flags override the file and environment.
	if *apiKey != "" {
		cfg.Auth.APIKey = *apiKey
	}
	if *studioURL != "" {
		cfg.Studio.URL = *studioURL
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *stdioMode {
		cfg.Server.Stdio = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// In stdio mode stdout carries protocol frames, so only errors are
	// logged unless a level was asked for explicitly.
	levelMap := map[string]observability.LogLevel{
		"debug": observability.LogLevelDebug,
		"info":  observability.LogLevelInfo,
		"warn":  observability.LogLevelWarn,
		"error": observability.LogLevelError,
	}
	if stdLogger, ok := logger.(*observability.StandardLogger); ok {
		if cfg.Server.Stdio && *logLevel == "" {
			logger = stdLogger.WithLevel(observability.LogLevelError)
		} else if level, ok := levelMap[cfg.Logging.Level]; ok {
			logger = stdLogger.WithLevel(level)
		}
	}

	if !cfg.Server.Stdio {
		info := platform.GetInfo()
		logger.Info("Studio MCP starting", map[string]interface{}{
			"version":      platform.Version,
			"os":           info.OS,
			"architecture": info.Architecture,
			"go_version":   info.GoVersion,
			"hostname":     info.Hostname,
		})
	}

	// Distributed tracing is optional; a broken exporter downgrades to
	// no tracing rather than failing startup.
	tracingConfig := &tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "studio-mcp",
		ServiceVersion: platform.Version,
		Environment:    cfg.Studio.Environment,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       true,
		SamplingRate:   cfg.Tracing.SampleRatio,
	}
	tracerProvider, err := tracing.NewTracerProvider(tracingConfig)
	if err != nil {
		logger.Warn("Could not initialize tracing", map[string]interface{}{
			"error": err.Error(),
		})
		tracerProvider = nil
	} else if tracingConfig.Enabled {
		logger.Info("Initialized distributed tracing", map[string]interface{}{
			"exporter":      tracingConfig.Exporter,
			"endpoint":      tracingConfig.Endpoint,
			"sampling_rate": tracingConfig.SamplingRate,
		})
	}

	metricsCollector := metrics.New()

	// Optional Redis second level for the stable cache tiers.
	var remote *cache.RemoteCache
	if cfg.Cache.RedisEnabled {
		remote, err = cache.NewRemoteCache(&cache.RemoteCacheConfig{
			Addr:                 cfg.Cache.RedisAddr,
			Password:             cfg.Cache.RedisPassword,
			DB:                   cfg.Cache.RedisDB,
			ConnectTimeout:       cfg.Cache.RedisConnectTimeout,
			FallbackMode:         cfg.Cache.RedisFallbackMode,
			EnableCompression:    cfg.Cache.EnableCompression,
			CompressionThreshold: cfg.Cache.CompressionThreshold,
			Logger:               logger,
		})
		if err != nil {
			logger.Fatal("Could not connect to Redis", map[string]interface{}{
				"addr":  cfg.Cache.RedisAddr,
				"error": err.Error(),
			})
		}
	}

	cacheOpts := cache.DefaultOptions()
	cacheOpts.Enabled = cfg.Cache.Enabled
	cacheOpts.MaxMemoryBytes = cfg.Cache.MaxMemoryMB * 1024 * 1024
	cacheOpts.EvictionThreshold = cfg.Cache.EvictionThreshold
	cacheOpts.MinEntriesPerTier = cfg.Cache.MinEntriesPerTier
	cacheOpts.MaxItemsPerTier = cfg.Cache.MaxItemsPerTier
	cacheOpts.DynamicTTL = cfg.Cache.DynamicTTL
	cacheOpts.SemiDynamicTTL = cfg.Cache.SemiDynamicTTL
	cacheOpts.CompletedTTL = cfg.Cache.CompletedTTL
	cacheOpts.ImmutableTTL = cfg.Cache.ImmutableTTL
	cacheOpts.FilterSensitive = cfg.Cache.FilterSensitive
	cacheOpts.SweepInterval = cfg.Cache.SweepInterval
	cacheOpts.Remote = remote
	cacheOpts.Logger = logger
	cacheOpts.Metrics = metricsCollector

	studioCache, err := cache.New(cacheOpts)
	if err != nil {
		logger.Fatal("Configuration error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	var store cache.Store = studioCache
	if tracerProvider != nil && tracingConfig.Enabled {
		spanHelper := tracing.NewSpanHelper(tracerProvider)
		store = cache.NewTracedCache(store, spanHelper)
	}

	invalidator := cache.NewInvalidator(store, logger)

	// The Studio client works without a URL: it reports disconnected
	// and every fetch fails fast, which keeps cached reads serving.
	studioClient := studio.NewClient(cfg.Studio, logger, metricsCollector, tracerProvider)
	provider := studio.NewProvider(studioClient, store, invalidator, logger)
	if cfg.Studio.URL == "" {
		logger.Warn("No Studio API URL configured, running in standalone mode", nil)
	}

	toolRegistry := tools.NewRegistry()
	studioTools := tools.NewStudioTools(provider, studioClient.Status, logger)
	toolRegistry.Register(studioTools)
	logger.Info("Registered tools", map[string]interface{}{
		"count": toolRegistry.Count(),
	})

	// Prime the shared list caches so the first clients hit warm data.
	if cfg.Studio.URL != "" && cfg.Cache.Enabled {
		go func() {
			warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer warmCancel()
			if err := provider.Warm(warmCtx, cache.DefaultOwner()); err != nil {
				logger.Warn("Cache warm-up incomplete", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	authenticator := auth.NewKeyAuthenticator(cfg.Auth.APIKey)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		GlobalRPS:   cfg.RateLimit.GlobalRPS,
		GlobalBurst: cfg.RateLimit.GlobalBurst,
		ClientRPS:   cfg.RateLimit.ClientRPS,
		ClientBurst: cfg.RateLimit.ClientBurst,
		ToolRPS:     cfg.RateLimit.ToolRPS,
		ToolBurst:   cfg.RateLimit.ToolBurst,
	}, logger, metricsCollector)
	defer rateLimiter.Close()

	mcpHandler := mcp.NewHandler(
		toolRegistry,
		store,
		studioClient.Status,
		authenticator,
		rateLimiter,
		metricsCollector,
		logger,
	)

	if cfg.Server.Stdio {
		runStdio(mcpHandler, store, tracerProvider, logger)
		return
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	healthChecker := api.NewHealthChecker(
		toolRegistry,
		store,
		studioClient.Status,
		mcpHandler,
		logger,
		platform.Version,
	)
	healthChecker.SetConfig(cfg)
	healthChecker.SetAuthenticator(authenticator)
	healthChecker.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
			// Large list responses compress well
			CompressionMode: websocket.CompressionContextTakeover,
		})
		if err != nil {
			logger.Error("WebSocket upgrade failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()

		mcpHandler.HandleConnection(conn, c.Request)
	})

	// Hot reload for the config file: changes are logged and the parts
	// that can be applied live are; the rest takes effect on restart.
	if configPath != "" {
		watcher, err := config.NewConfigWatcher(configPath, logger)
		if err != nil {
			logger.Warn("Could not watch config file", map[string]interface{}{
				"file":  configPath,
				"error": err.Error(),
			})
		} else {
			watcher.RegisterCallback(func(oldCfg, newCfg *config.Config) error {
				if oldCfg.Server.Port != newCfg.Server.Port {
					logger.Warn("Server port change requires a restart", map[string]interface{}{
						"current": oldCfg.Server.Port,
						"pending": newCfg.Server.Port,
					})
				}
				studioCache.SetTierTTLs(
					newCfg.Cache.DynamicTTL,
					newCfg.Cache.SemiDynamicTTL,
					newCfg.Cache.CompletedTTL,
					newCfg.Cache.ImmutableTTL,
				)
				return nil
			})
			watcher.Start()
			defer func() { _ = watcher.Stop() }()
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownChan := make(chan struct{})
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Drain active MCP connections and in-flight tool calls first.
		logger.Info("Draining active connections", nil)
		handlerCtx, handlerCancel := context.WithTimeout(shutdownCtx, 15*time.Second)
		if err := mcpHandler.Shutdown(handlerCtx); err != nil {
			logger.Error("Handler shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
		handlerCancel()

		logger.Info("Shutting down HTTP server", nil)
		serverCtx, serverCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		if err := srv.Shutdown(serverCtx); err != nil {
			logger.Error("Server shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
		serverCancel()

		logger.Info("Closing cache", nil)
		if err := store.Close(); err != nil {
			logger.Warn("Cache close error", map[string]interface{}{
				"error": err.Error(),
			})
		}

		if tracerProvider != nil && tracingConfig.Enabled {
			logger.Info("Flushing traces", nil)
			tracerCtx, tracerCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
			if err := tracerProvider.Shutdown(tracerCtx); err != nil {
				logger.Warn("Tracer shutdown error", map[string]interface{}{
					"error": err.Error(),
				})
			}
			tracerCancel()
		}

		logger.Info("Shutdown complete", nil)
		close(shutdownChan)
	}()

	healthChecker.MarkStartupComplete(map[string]interface{}{
		"total_tools":      toolRegistry.Count(),
		"studio_connected": cfg.Studio.URL != "",
		"cache_enabled":    cfg.Cache.Enabled,
		"redis_enabled":    cfg.Cache.RedisEnabled,
		"version":          platform.Version,
	})

	logger.Info("Studio MCP listening", map[string]interface{}{
		"version": platform.Version,
		"port":    cfg.Server.Port,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		logger.Fatal("Server failed to start", map[string]interface{}{
			"error": err.Error(),
		})
	case <-shutdownChan:
	}
}

// runStdio serves the MCP protocol over stdin/stdout until EOF or a
// termination signal.
func runStdio(handler *mcp.Handler, store cache.Store, tracerProvider *tracing.TracerProvider, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	if err := handler.ServeStdio(ctx); err != nil {
		logger.Error("Stdio session error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		logger.Error("Handler shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := store.Close(); err != nil {
		logger.Warn("Cache close error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if tracerProvider != nil {
		_ = tracerProvider.Shutdown(shutdownCtx)
	}
}

// flagPassed reports whether a flag was set explicitly on the command
// line, as opposed to holding its default value.
func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}
