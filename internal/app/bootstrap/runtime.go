// Package bootstrap builds the optional runtime dependencies shared by the binaries.
package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/blood-donor-assistant/internal/config"
	"github.com/wolfman30/blood-donor-assistant/internal/guard"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, falling back to in-process booking lock", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildBookingLock picks the shared Redis lock when a client is available and
// the in-process lock otherwise.
func BuildBookingLock(client *redis.Client, cfg *appconfig.Config, logger *logging.Logger) guard.Lock {
	if logger == nil {
		logger = logging.Default()
	}
	if client == nil {
		logger.Info("booking guard: in-process lock")
		return guard.NewLocalLock()
	}
	logger.Info("booking guard: redis lock", "ttl", cfg.BookingLockTTL)
	return guard.NewRedisLock(client, cfg.BookingLockTTL)
}
