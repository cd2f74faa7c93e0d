package rate

import (
	"context"
	"time"

	"github.com/alphabot-ai/slashnews/internal/store"
)

type Limiter interface {
	// Limited reports whether the action identified by tags already ran within
	// window. The first call in a window returns false and arms the lock.
	Limited(ctx context.Context, window time.Duration, tags ...string) (bool, error)
}

// StoreLimiter keeps one expiring lock key per tag combination in the store,
// so every process sharing the store shares the limit.
type StoreLimiter struct {
	store store.KVStore
}

func NewStoreLimiter(st store.KVStore) *StoreLimiter {
	return &StoreLimiter{store: st}
}

func (l *StoreLimiter) Limited(ctx context.Context, window time.Duration, tags ...string) (bool, error) {
	if len(tags) == 0 {
		return false, nil
	}
	armed, err := l.store.SetNX(ctx, store.LimitKey(tags...), "1", window)
	if err != nil {
		return false, err
	}
	return !armed, nil
}
