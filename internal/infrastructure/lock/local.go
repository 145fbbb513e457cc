package lock

import (
	"context"
	"credit-engine/internal/pkg/apperrors"
	"sync"
)

// LocalLocker holds keys in process memory. It is only correct when a single
// engine instance serves the data store.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(ctx context.Context, keys ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.PersistenceTimeout(err, "lock acquisition cancelled")
	}
	keys = normalize(keys)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if _, busy := l.held[k]; busy {
			return nil, apperrors.ConcurrentModification("%s is locked by another operation", k)
		}
	}
	for _, k := range keys {
		l.held[k] = struct{}{}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for _, k := range keys {
				delete(l.held, k)
			}
		})
	}, nil
}
