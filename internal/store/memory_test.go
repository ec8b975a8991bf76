package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryStoreContract(t *testing.T) {
	defer goleak.VerifyNone(t)

	runContract(t, func(t *testing.T) RecordStore {
		s := NewMemoryStore(WithKeyGenerator(sequentialKeys()))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStoreDefaultPushKeysSort(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	prev := ""
	for i := 0; i < 100; i++ {
		p, err := s.Push(ctx, "outbox")
		require.NoError(t, err)
		assert.Greater(t, p, prev)
		prev = p
	}
}

func TestMemoryStoreConcurrentUpdatesKeepEveryField(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	fields := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, f := range fields {
		wg.Add(1)
		go func(f string) {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, "docs/one", map[string]interface{}{f: true}))
		}(f)
	}
	wg.Wait()

	var got map[string]bool
	snap, err := s.Get(ctx, "docs/one")
	require.NoError(t, err)
	require.NoError(t, snap.Decode(&got))
	assert.Len(t, got, len(fields))
}

func TestMemoryStoreClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Subscribe(ctx, "q/u1", func(Snapshot) {})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, "q/u1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(ctx, "q/u1", 1), ErrClosed)
	_, err = s.Subscribe(ctx, "q/u1", func(Snapshot) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Set(ctx, "a/b", 1), context.Canceled)
	_, err := s.Get(ctx, "a/b")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		current string
		fields  map[string]interface{}
		want    string
	}{
		{"missing", "", map[string]interface{}{"a": 1}, `{"a":1}`},
		{"overwrite field", `{"a":1,"b":2}`, map[string]interface{}{"a": 3}, `{"a":3,"b":2}`},
		{"remove field", `{"a":1,"b":2}`, map[string]interface{}{"a": nil}, `{"b":2}`},
		{"non object replaced", `42`, map[string]interface{}{"a": "x"}, `{"a":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := merge([]byte(tt.current), tt.fields)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestCleanPath(t *testing.T) {
	p, err := CleanPath("/users/u1/wallet/")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/wallet", p)
	assert.Equal(t, "users/u1/wallet", Join("users", "u1", "wallet"))

	_, err = CleanPath("users//wallet")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
