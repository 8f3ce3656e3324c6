package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/passport/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeHarness builds a fresh store and a way to move its clock forward.
type storeHarness func(t *testing.T) (ports.Store, func(time.Duration))

func runStoreSuite(t *testing.T, newStore storeHarness) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, ports.ErrKeyNotFound)
	})

	t.Run("set and get", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Set(ctx, "user:1", "alice", 0))
		v, err := s.Get(ctx, "user:1")
		require.NoError(t, err)
		assert.Equal(t, "alice", v)

		ok, err := s.Exists(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		s, advance := newStore(t)
		require.NoError(t, s.Set(ctx, "revoked_token:x", "1", time.Minute))

		advance(30 * time.Second)
		_, err := s.Get(ctx, "revoked_token:x")
		require.NoError(t, err)

		advance(31 * time.Second)
		_, err = s.Get(ctx, "revoked_token:x")
		require.ErrorIs(t, err, ports.ErrKeyNotFound)
	})

	t.Run("compare and swap", func(t *testing.T) {
		s, _ := newStore(t)
		ok, err := s.CompareAndSwap(ctx, "user:1", "v1", "v2")
		require.NoError(t, err)
		assert.False(t, ok, "missing key")

		require.NoError(t, s.Set(ctx, "user:1", "v1", 0))
		ok, err = s.CompareAndSwap(ctx, "user:1", "stale", "v2")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.CompareAndSwap(ctx, "user:1", "v1", "v2")
		require.NoError(t, err)
		assert.True(t, ok)
		v, err := s.Get(ctx, "user:1")
		require.NoError(t, err)
		assert.Equal(t, "v2", v)
	})

	t.Run("compare and swap concurrent", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Set(ctx, "user:1", "base", 0))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.CompareAndSwap(ctx, "user:1", "base", fmt.Sprintf("writer-%d", i))
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("setnx claims once", func(t *testing.T) {
		s, _ := newStore(t)
		ok, err := s.SetNX(ctx, "address:0xabc", "id-1", 0)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetNX(ctx, "address:0xabc", "id-2", 0)
		require.NoError(t, err)
		assert.False(t, ok)

		v, err := s.Get(ctx, "address:0xabc")
		require.NoError(t, err)
		assert.Equal(t, "id-1", v)
	})

	t.Run("setnx after expiry", func(t *testing.T) {
		s, advance := newStore(t)
		ok, err := s.SetNX(ctx, "k", "a", time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		advance(2 * time.Second)
		ok, err = s.SetNX(ctx, "k", "b", 0)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("getdel consumes once", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Set(ctx, "refresh_token:t", "payload", time.Hour))

		v, err := s.GetDel(ctx, "refresh_token:t")
		require.NoError(t, err)
		assert.Equal(t, "payload", v)

		_, err = s.GetDel(ctx, "refresh_token:t")
		require.ErrorIs(t, err, ports.ErrKeyNotFound)
	})

	t.Run("getdel concurrent", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Set(ctx, "once", "v", 0))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.GetDel(ctx, "once"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("compare and delete", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Set(ctx, "email:a@b.com", "id-1", 0))

		ok, err := s.CompareAndDelete(ctx, "email:a@b.com", "id-2")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.CompareAndDelete(ctx, "email:a@b.com", "id-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.CompareAndDelete(ctx, "email:a@b.com", "id-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete many", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Set(ctx, "a", "1", 0))
		require.NoError(t, s.Set(ctx, "b", "2", 0))
		require.NoError(t, s.Delete(ctx, "a", "b", "missing"))
		for _, k := range []string{"a", "b"} {
			ok, err := s.Exists(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok)
		}
	})

	t.Run("keys by prefix", func(t *testing.T) {
		s, advance := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Set(ctx, fmt.Sprintf("refresh_token:%d", i), "x", 0))
		}
		require.NoError(t, s.Set(ctx, "refresh_token:short", "x", time.Second))
		require.NoError(t, s.Set(ctx, "revoked_token:1", "1", 0))
		advance(2 * time.Second)

		keys, err := s.Keys(ctx, "refresh_token:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"refresh_token:0", "refresh_token:1", "refresh_token:2", "refresh_token:3", "refresh_token:4",
		}, keys)
	})

	t.Run("ping", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Ping(ctx))
	})
}
