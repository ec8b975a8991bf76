package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// sequentialKeys returns a push key generator that never collides inside
// one test run.
func sequentialKeys() func() string {
	var n int64
	return func() string {
		return fmt.Sprintf("%019d", atomic.AddInt64(&n, 1))
	}
}

// recorder collects snapshots delivered to a subscription.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) add(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// runContract exercises the behaviour every RecordStore backend shares.
// newStore must return an empty store.
func runContract(t *testing.T, newStore func(t *testing.T) RecordStore) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		snap, err := s.Get(ctx, "users/u1/wallet")
		require.NoError(t, err)
		assert.False(t, snap.Exists())
		assert.Equal(t, "wallet", snap.Key())

		var d doc
		require.NoError(t, snap.Decode(&d))
		assert.Equal(t, doc{}, d)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "/users/u1/profile/", doc{Name: "ana", Count: 2}))

		snap, err := s.Get(ctx, "users/u1/profile")
		require.NoError(t, err)
		require.True(t, snap.Exists())
		assert.Equal(t, "users/u1/profile", snap.Path())

		var d doc
		require.NoError(t, snap.Decode(&d))
		assert.Equal(t, doc{Name: "ana", Count: 2}, d)
	})

	t.Run("set nil deletes", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "a/b", doc{Name: "x"}))
		require.NoError(t, s.Set(ctx, "a/b", nil))

		snap, err := s.Get(ctx, "a/b")
		require.NoError(t, err)
		assert.False(t, snap.Exists())

		kids, err := s.Children(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, kids)
	})

	t.Run("set typed nil deletes", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "a/b", doc{Name: "x"}))
		require.NoError(t, s.Set(ctx, "a/b", (*doc)(nil)))

		snap, err := s.Get(ctx, "a/b")
		require.NoError(t, err)
		assert.False(t, snap.Exists())

		require.NoError(t, s.Set(ctx, "a/c", map[string]interface{}(nil)))
		snap, err = s.Get(ctx, "a/c")
		require.NoError(t, err)
		assert.False(t, snap.Exists())

		kids, err := s.Children(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, kids)
	})

	t.Run("update with typed nil field removes it", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "a/b", map[string]interface{}{"name": "x", "count": 1}))
		require.NoError(t, s.Update(ctx, "a/b", map[string]interface{}{"name": (*string)(nil)}))

		snap, err := s.Get(ctx, "a/b")
		require.NoError(t, err)
		assert.JSONEq(t, `{"count":1}`, string(snap.Raw()))
	})

	t.Run("update merges and creates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, "users/u1/wallet", map[string]interface{}{"count": 3}))
		require.NoError(t, s.Update(ctx, "users/u1/wallet", map[string]interface{}{"name": "w"}))

		var d doc
		snap, err := s.Get(ctx, "users/u1/wallet")
		require.NoError(t, err)
		require.NoError(t, snap.Decode(&d))
		assert.Equal(t, doc{Name: "w", Count: 3}, d)

		require.NoError(t, s.Update(ctx, "users/u1/wallet", map[string]interface{}{"name": nil}))
		d = doc{}
		snap, err = s.Get(ctx, "users/u1/wallet")
		require.NoError(t, err)
		require.NoError(t, snap.Decode(&d))
		assert.Equal(t, doc{Count: 3}, d)
	})

	t.Run("push and children", func(t *testing.T) {
		s := newStore(t)
		var paths []string
		for i := 0; i < 3; i++ {
			p, err := s.Push(ctx, "transactions")
			require.NoError(t, err)
			require.NoError(t, s.Set(ctx, p, doc{Count: i}))
			paths = append(paths, p)
		}
		assert.Len(t, map[string]bool{paths[0]: true, paths[1]: true, paths[2]: true}, 3)

		// pushed but never written
		_, err := s.Push(ctx, "transactions")
		require.NoError(t, err)

		kids, err := s.Children(ctx, "transactions")
		require.NoError(t, err)
		require.Len(t, kids, 3)
		for i, k := range kids {
			assert.Equal(t, paths[i], k.Path())
			var d doc
			require.NoError(t, k.Decode(&d))
			assert.Equal(t, i, d.Count)
		}
	})

	t.Run("children of empty collection", func(t *testing.T) {
		s := newStore(t)
		kids, err := s.Children(ctx, "nothing/here")
		require.NoError(t, err)
		assert.Empty(t, kids)
	})

	t.Run("invalid paths", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{"", "/", "a//b", "a/b.c", "a/$b"} {
			_, err := s.Get(ctx, p)
			assert.ErrorIs(t, err, ErrInvalidPath, p)
			assert.ErrorIs(t, s.Set(ctx, p, 1), ErrInvalidPath, p)
		}
	})

	t.Run("subscribe delivers current value then changes in order", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "q/u1", doc{Count: 0}))

		rec := &recorder{}
		unsubscribe, err := s.Subscribe(ctx, "q/u1", rec.add)
		require.NoError(t, err)
		defer unsubscribe()

		for i := 1; i <= 5; i++ {
			require.NoError(t, s.Update(ctx, "q/u1", map[string]interface{}{"count": i}))
		}
		require.Eventually(t, func() bool {
			snaps := rec.all()
			if len(snaps) == 0 {
				return false
			}
			var last doc
			_ = snaps[len(snaps)-1].Decode(&last)
			return last.Count == 5
		}, 2*time.Second, 5*time.Millisecond)

		prev := -1
		for _, snap := range rec.all() {
			var d doc
			require.NoError(t, snap.Decode(&d))
			assert.GreaterOrEqual(t, d.Count, prev)
			prev = d.Count
		}
	})

	t.Run("subscribe sees delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "q/u2", doc{Count: 1}))

		rec := &recorder{}
		unsubscribe, err := s.Subscribe(ctx, "q/u2", rec.add)
		require.NoError(t, err)
		defer unsubscribe()

		require.NoError(t, s.Delete(ctx, "q/u2"))
		require.Eventually(t, func() bool {
			snaps := rec.all()
			return len(snaps) >= 2 && !snaps[len(snaps)-1].Exists()
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("callback may write back into the store", func(t *testing.T) {
		s := newStore(t)
		done := make(chan struct{})
		var once sync.Once

		unsubscribe, err := s.Subscribe(ctx, "q/u3", func(snap Snapshot) {
			if !snap.Exists() {
				assert.NoError(t, s.Set(ctx, "q/u3", doc{Name: "init"}))
				return
			}
			once.Do(func() { close(done) })
		})
		require.NoError(t, err)
		defer unsubscribe()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("callback never observed its own write")
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		s := newStore(t)
		rec := &recorder{}
		unsubscribe, err := s.Subscribe(ctx, "q/u4", rec.add)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 5*time.Millisecond)

		unsubscribe()
		unsubscribe()
		require.NoError(t, s.Set(ctx, "q/u4", doc{Count: 9}))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, rec.len())
	})
}
