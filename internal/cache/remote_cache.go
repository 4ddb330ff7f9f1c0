package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/windriver/studio-mcp/internal/observability"
)

const (
	// remoteCompressionThreshold is the minimum payload size compressed
	// before hitting the wire (1KB).
	remoteCompressionThreshold = 1024

	// remoteConnectTimeout bounds connection establishment.
	remoteConnectTimeout = 5 * time.Second

	// remoteOperationTimeout bounds individual Redis operations.
	remoteOperationTimeout = 2 * time.Second

	// remoteHealthInterval is how often an unhealthy or idle connection
	// is re-probed.
	remoteHealthInterval = 30 * time.Second

	remoteKeyNamespace = "studio_mcp:cache:"
)

// RemoteCacheConfig configures the optional distributed cache level.
type RemoteCacheConfig struct {
	Addr           string
	Password       string
	DB             int
	ConnectTimeout time.Duration

	// FallbackMode keeps the process running memory-only when the
	// remote is unreachable instead of failing startup.
	FallbackMode bool

	EnableCompression    bool
	CompressionThreshold int

	Logger observability.Logger
}

// RemoteCache is a Redis-backed second cache level for the stable tiers.
// All operations are best effort: a sick remote degrades to memory-only
// behavior, it never takes the server down.
type RemoteCache struct {
	client *redis.Client
	config *RemoteCacheConfig
	logger observability.Logger

	mu              sync.RWMutex
	healthy         bool
	lastHealthCheck time.Time
}

// NewRemoteCache connects to Redis. With FallbackMode set, connection
// failure returns a cache that reports unhealthy instead of an error.
func NewRemoteCache(config *RemoteCacheConfig) (*RemoteCache, error) {
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = remoteConnectTimeout
	}
	if config.CompressionThreshold == 0 {
		config.CompressionThreshold = remoteCompressionThreshold
	}

	rc := &RemoteCache{
		config: config,
		logger: config.Logger,
	}

	rc.client = redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.ConnectTimeout,
		ReadTimeout:  remoteOperationTimeout,
		WriteTimeout: remoteOperationTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := rc.client.Ping(ctx).Err(); err != nil {
		if !config.FallbackMode {
			_ = rc.client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		rc.logger.Warn("remote cache unavailable, running memory-only", map[string]interface{}{
			"addr":  config.Addr,
			"error": err.Error(),
		})
		rc.healthy = false
		rc.lastHealthCheck = time.Now()
		return rc, nil
	}

	rc.healthy = true
	rc.lastHealthCheck = time.Now()
	rc.logger.Info("remote cache connected", map[string]interface{}{
		"addr": config.Addr,
		"db":   config.DB,
	})
	return rc, nil
}

// Get fetches a key from the remote level, returning the payload and its
// remaining TTL for local readmission.
func (rc *RemoteCache) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	if !rc.available() {
		return nil, 0, ErrMiss
	}

	ctx, cancel := context.WithTimeout(ctx, remoteOperationTimeout)
	defer cancel()

	rkey := remoteKeyNamespace + key

	pipe := rc.client.Pipeline()
	getCmd := pipe.Get(ctx, rkey)
	ttlCmd := pipe.TTL(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return nil, 0, ErrMiss
		}
		rc.markUnhealthy(err)
		return nil, 0, ErrMiss
	}

	data, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, ErrMiss
	}

	if rc.config.EnableCompression && isGzip(data) {
		data, err = gunzip(data)
		if err != nil {
			return nil, 0, fmt.Errorf("remote payload decompress failed: %w", err)
		}
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return data, ttl, nil
}

// SetAsync writes a key to the remote level in the background. Write
// failures are logged and absorbed.
func (rc *RemoteCache) SetAsync(key string, value []byte, ttl time.Duration) {
	if !rc.available() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteOperationTimeout)
		defer cancel()

		data := value
		if rc.config.EnableCompression && len(data) >= rc.config.CompressionThreshold {
			compressed, err := gzipBytes(data)
			if err == nil {
				data = compressed
			}
		}

		if err := rc.client.Set(ctx, remoteKeyNamespace+key, data, ttl).Err(); err != nil {
			rc.markUnhealthy(err)
			rc.logger.Warn("remote cache write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

// Delete removes a key from the remote level.
func (rc *RemoteCache) Delete(ctx context.Context, key string) error {
	if !rc.available() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, remoteOperationTimeout)
	defer cancel()

	if err := rc.client.Del(ctx, remoteKeyNamespace+key).Err(); err != nil {
		rc.markUnhealthy(err)
		return err
	}
	return nil
}

// DeletePrefix removes every remote key starting with prefix.
func (rc *RemoteCache) DeletePrefix(ctx context.Context, prefix string) error {
	if !rc.available() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, remoteOperationTimeout*10)
	defer cancel()

	pattern := remoteKeyNamespace + prefix + "*"
	iter := rc.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := rc.client.Del(ctx, iter.Val()).Err(); err != nil {
			rc.logger.Warn("remote cache delete failed", map[string]interface{}{
				"key":   iter.Val(),
				"error": err.Error(),
			})
		}
	}
	if err := iter.Err(); err != nil {
		rc.markUnhealthy(err)
		return fmt.Errorf("remote scan failed: %w", err)
	}
	return nil
}

// Healthy reports the last known health of the remote connection.
func (rc *RemoteCache) Healthy() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.healthy
}

// Close releases the Redis connection.
func (rc *RemoteCache) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

func (rc *RemoteCache) available() bool {
	if rc == nil || rc.client == nil {
		return false
	}

	rc.mu.RLock()
	healthy := rc.healthy
	lastCheck := rc.lastHealthCheck
	rc.mu.RUnlock()

	if time.Since(lastCheck) > remoteHealthInterval {
		go rc.checkHealth()
	}
	return healthy
}

func (rc *RemoteCache) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), remoteConnectTimeout)
	defer cancel()

	err := rc.client.Ping(ctx).Err()

	rc.mu.Lock()
	wasHealthy := rc.healthy
	rc.healthy = err == nil
	rc.lastHealthCheck = time.Now()
	rc.mu.Unlock()

	if err != nil {
		rc.logger.Warn("remote cache health check failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else if !wasHealthy {
		rc.logger.Info("remote cache recovered", nil)
	}
}

func (rc *RemoteCache) markUnhealthy(err error) {
	if err == nil || err == redis.Nil {
		return
	}
	rc.mu.Lock()
	rc.healthy = false
	rc.mu.Unlock()
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = gz.Close() }()
	return io.ReadAll(gz)
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
