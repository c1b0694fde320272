// Package guard keeps at most one booking run in flight per donor account.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultTTL = 2 * time.Minute

// ErrBusy is returned when another booking holds the lock.
var ErrBusy = errors.New("guard: booking already in progress")

// Lock serializes booking runs. The returned release func is safe to call more than once.
type Lock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX PX lock shared by every process using the same Redis.
type RedisLock struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if client == nil {
		panic("guard: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLock{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("blooddonor.internal.guard"),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	ctx, span := l.tracer.Start(ctx, "guard.acquire")
	defer span.End()

	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, lockKey(key), token, l.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("guard: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.redis, []string{lockKey(key)}, token).Err()
		})
	}, nil
}

func lockKey(key string) string {
	return fmt.Sprintf("booking_lock:%s", key)
}

// LocalLock is an in-process lock for single-instance deployments.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]struct{})}
}

func (l *LocalLock) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
