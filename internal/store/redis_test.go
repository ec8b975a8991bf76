package store

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to MAGNETAR_TEST_REDIS_ADDR or skips the test.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("MAGNETAR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MAGNETAR_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStoreContract(t *testing.T) {
	client := newTestRedis(t)

	runContract(t, func(t *testing.T) RecordStore {
		// a fresh prefix per subtest keeps runs isolated
		prefix := "magnetar-test-" + uuid.NewString()
		s := NewRedisStore(client, prefix, WithKeyGenerator(sequentialKeys()))
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := client.Keys(ctx, prefix+":*").Result()
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
		})
		return s
	})
}
