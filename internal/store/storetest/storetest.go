// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/alphabot-ai/slashnews/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh empty store and a function moving its clock forward.
type Factory func(t *testing.T) (store.Store, func(time.Duration))

// Run exercises st against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("scalar keys", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		_, err := st.Get(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, st.Set(ctx, "k", "v"))
		v, err := st.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)

		ok, err := st.Exists(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, st.Del(ctx, "k"))
		ok, err = st.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := st.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = st.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("expiring keys", func(t *testing.T) {
		st, advance := newStore(t)
		ctx := context.Background()

		require.NoError(t, st.SetEx(ctx, "lock", "1", time.Minute))
		ttl, err := st.TTL(ctx, "lock")
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)

		ok, err := st.SetNX(ctx, "lock", "2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		advance(2 * time.Minute)

		ok, err = st.Exists(ctx, "lock")
		require.NoError(t, err)
		assert.False(t, ok)
		ttl, err = st.TTL(ctx, "lock")
		require.NoError(t, err)
		assert.Zero(t, ttl)

		ok, err = st.SetNX(ctx, "lock", "3", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		v, err := st.Get(ctx, "lock")
		require.NoError(t, err)
		assert.Equal(t, "3", v)
	})

	t.Run("hashes", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		h, err := st.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Empty(t, h)

		require.NoError(t, st.HSet(ctx, "h", map[string]string{"a": "1", "b": "x"}))
		n, err := st.HIncrBy(ctx, "h", "a", 4)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		n, err = st.HIncrBy(ctx, "h", "c", -1)
		require.NoError(t, err)
		assert.Equal(t, int64(-1), n)

		h, err = st.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "5", "b": "x", "c": "-1"}, h)

		_, err = st.HGet(ctx, "h", "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		v, err := st.HGet(ctx, "h", "b")
		require.NoError(t, err)
		assert.Equal(t, "x", v)

		ok, err := st.Exists(ctx, "h")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("sorted sets", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		added, err := st.ZAdd(ctx, "z", 1, "a")
		require.NoError(t, err)
		assert.True(t, added)
		added, err = st.ZAdd(ctx, "z", 3, "a")
		require.NoError(t, err)
		assert.False(t, added)
		_, err = st.ZAdd(ctx, "z", 2, "b")
		require.NoError(t, err)
		_, err = st.ZAdd(ctx, "z", 5, "c")
		require.NoError(t, err)

		all, err := st.ZRevRange(ctx, "z", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b"}, all)

		page, err := st.ZRevRange(ctx, "z", 1, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, page)

		score, ok, err := st.ZScore(ctx, "z", "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3.0, score)

		_, ok, err = st.ZScore(ctx, "z", "zz")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, st.ZRem(ctx, "z", "a"))
		n, err := st.ZCard(ctx, "z")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = st.ZCard(ctx, "empty")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("batch keeps submission order", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		require.NoError(t, st.HSet(ctx, "news:1", map[string]string{"title": "one"}))
		require.NoError(t, st.Set(ctx, "plain", "p"))
		_, err := st.ZAdd(ctx, "votes", 10, "7")
		require.NoError(t, err)

		results, err := st.Batch(ctx, []store.Op{
			store.HGetAllOp("news:1"),
			store.HGetAllOp("news:2"),
			store.HGetOp("news:1", "title"),
			store.ZScoreOp("votes", "7"),
			store.ZScoreOp("votes", "8"),
			store.GetOp("plain"),
			store.HSetOp("news:1", map[string]string{"rank": "0.5"}),
			store.ZAddOp("top", 0.5, "1"),
			store.ZCardOp("votes"),
		})
		require.NoError(t, err)
		require.Len(t, results, 9)

		assert.True(t, results[0].Found)
		assert.Equal(t, "one", results[0].Hash["title"])
		assert.False(t, results[1].Found)
		assert.Equal(t, "one", results[2].Value)
		assert.True(t, results[3].Found)
		assert.Equal(t, 10.0, results[3].Score)
		assert.False(t, results[4].Found)
		assert.Equal(t, "p", results[5].Value)
		assert.Equal(t, int64(1), results[8].Int)

		rank, err := st.HGet(ctx, "news:1", "rank")
		require.NoError(t, err)
		assert.Equal(t, "0.5", rank)
		_, ok, err := st.ZScore(ctx, "top", "1")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
