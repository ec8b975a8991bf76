package idgen

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnowflakeRejectsBadWorker(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)

	_, err = NewSnowflake(MaxWorkerID + 1)
	assert.Error(t, err)

	_, err = NewSnowflake(MaxWorkerID)
	assert.NoError(t, err)
}

func TestPushKeysAreUniqueAndSorted(t *testing.T) {
	sf, err := NewSnowflake(7)
	require.NoError(t, err)

	keys := make([]string, 0, 5000)
	for i := 0; i < 5000; i++ {
		keys = append(keys, sf.PushKey())
	}

	assert.True(t, sort.StringsAreSorted(keys), "keys should be issued in lexicographic order")

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		assert.Len(t, k, 19)
		_, dup := seen[k]
		assert.False(t, dup, "duplicate key %s", k)
		seen[k] = struct{}{}
	}
}

func TestGenerateConcurrent(t *testing.T) {
	sf, err := NewSnowflake(3)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := sf.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8*500)
}

func TestGenerateSurvivesClockStepBack(t *testing.T) {
	sf, err := NewSnowflake(1)
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sf.now = func() time.Time { return base }
	first := sf.Generate()

	sf.now = func() time.Time { return base.Add(-time.Second) }
	second := sf.Generate()

	assert.Greater(t, second, first)
}
