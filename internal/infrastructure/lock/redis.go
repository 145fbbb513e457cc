package lock

import (
	"context"
	"credit-engine/internal/pkg/apperrors"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 30 * time.Second
	defaultPrefix = "credit-engine:lock:"
)

type Options struct {
	// TTL bounds how long a crashed holder can keep a key.
	TTL    time.Duration
	Prefix string
}

// releaseScript deletes the key only while it still carries our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between engine instances through SET NX with an
// expiry.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedisLocker(client *redis.Client, opts Options, logger *slog.Logger) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	logger.Info("Redis locker configured", "ttl", opts.TTL, "prefix", opts.Prefix)
	return &RedisLocker{client: client, ttl: opts.TTL, prefix: opts.Prefix, logger: logger}
}

func (l *RedisLocker) TryLock(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	acquired := make([]string, 0, len(keys))

	for _, k := range normalize(keys) {
		key := l.prefix + k
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			l.release(acquired, token)
			l.logger.ErrorContext(ctx, "Redis lock acquisition failed", "key", key, "error", err)
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, apperrors.PersistenceTimeout(err, "acquiring lock %s", k)
			}
			return nil, apperrors.WrapDatabaseError(err, "acquiring lock "+k)
		}
		if !ok {
			l.release(acquired, token)
			l.logger.WarnContext(ctx, "Lock held by another operation", "key", key)
			return nil, apperrors.ConcurrentModification("%s is locked by another operation", k)
		}
		acquired = append(acquired, key)
	}

	return func() { l.release(acquired, token) }, nil
}

// release runs on a fresh context: the caller's may already be cancelled.
func (l *RedisLocker) release(keys []string, token string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Error("Failed to release Redis lock; it will expire", "key", key, "error", err)
		}
	}
}
