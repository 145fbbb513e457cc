// Package lock serializes engine operations per credit and per member.
//
// Every operation locks all the keys it touches before opening its database
// transaction. Locks never wait: a key that is already held fails the whole
// acquisition with a retryable ConcurrentModification error.
package lock

import (
	"context"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"
)

// Locker acquires a set of keys atomically from the caller's point of view:
// either every key is held when TryLock returns, or none is.
type Locker interface {
	TryLock(ctx context.Context, keys ...string) (unlock func(), err error)
}

func CreditKey(id string) string { return "credit:" + id }

func MemberKey(id string) string { return "member:" + id }

// New picks the Redis locker when a client is configured and falls back to
// the in-process locker otherwise.
func New(client *redis.Client, cfg Options, logger *slog.Logger) Locker {
	if client == nil {
		logger.Warn("No Redis client for distributed locks; using in-process locker")
		return NewLocalLocker()
	}
	return NewRedisLocker(client, cfg, logger)
}

// normalize sorts and deduplicates keys so concurrent callers acquire
// overlapping sets in the same order.
func normalize(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
