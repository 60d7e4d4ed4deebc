package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds the caller's token.
// KEYS[1] = lock key
// ARGV[1] = lock id
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps locks in Redis so every worker process sees the same state.
// Expiry is left to Redis key TTLs.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithRedisPrefix namespaces lock keys.
func WithRedisPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) { l.prefix = prefix }
}

// WithRedisTTL overrides DefaultTTL.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRedisLogger sets the logger used for foreign unlock attempts.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(l *RedisLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisLocker creates a locker over an existing client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: "exchange:lock:",
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewRedisClient builds a client from connection settings.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

func (l *RedisLocker) Lock(ctx context.Context, name string) (FileLock, error) {
	lockID := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.key(name), lockID, l.ttl).Result()
	if err != nil {
		return FileLock{}, fmt.Errorf("failed to acquire lock on %s: %w", name, err)
	}
	if !acquired {
		return FileLock{}, fmt.Errorf("%s: %w", name, ErrAlreadyLocked)
	}
	now := l.now()
	return FileLock{Key: name, LockID: lockID, AcquiredAt: now, ExpiresAt: now.Add(l.ttl)}, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, lock FileLock) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key(lock.Key)}, lock.LockID).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", lock.Key, err)
	}
	if res == 0 {
		l.logger.Warn("lock not released: not held by caller", "key", lock.Key, "lock_id", lock.LockID)
	}
	return nil
}

func (l *RedisLocker) IsLocked(ctx context.Context, name string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock on %s: %w", name, err)
	}
	return n > 0, nil
}
