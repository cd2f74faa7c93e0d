// Package redistest starts an in-process Redis for engine tests.
package redistest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	redisstore "github.com/alphabot-ai/slashnews/internal/store/redis"
	goredis "github.com/redis/go-redis/v9"
)

// New returns a store backed by a fresh miniredis, closed when t ends.
// Use the returned server to fast-forward key expiry.
func New(t testing.TB) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := redisstore.New(goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1}), redisstore.DefaultBreakerSettings())
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}
