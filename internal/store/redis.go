package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"magnetar/pkg/idgen"

	"github.com/go-redis/redis/v8"
)

// maxWatchRetries bounds the optimistic retry loop of Update.
const maxWatchRetries = 16

// RedisStore keeps each document as a JSON string.
//
// Key layout, for prefix "magnetar":
//
//	magnetar:doc:users/u1/wallet   document body
//	magnetar:idx:users/u1          set of child keys of users/u1
//	magnetar:chg:users/u1/wallet   pub/sub channel carrying new bodies
//
// Every write updates the document, its parent index and publishes the new
// body inside one MULTI block, so subscribers see changes in commit order.
// An empty message means the document was deleted.
type RedisStore struct {
	client *redis.Client
	prefix string
	keys   func() string
}

func NewRedisStore(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	o := options{keys: idgen.PushKey}
	for _, opt := range opts {
		opt(&o)
	}
	if prefix == "" {
		prefix = "magnetar"
	}
	return &RedisStore{client: client, prefix: prefix, keys: o.keys}
}

func (s *RedisStore) docKey(p string) string  { return s.prefix + ":doc:" + p }
func (s *RedisStore) idxKey(p string) string  { return s.prefix + ":idx:" + p }
func (s *RedisStore) chanKey(p string) string { return s.prefix + ":chg:" + p }

func (s *RedisStore) Get(ctx context.Context, path string) (Snapshot, error) {
	p, err := CleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	b, err := s.client.Get(ctx, s.docKey(p)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSnapshot(p, nil), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis get %s: %w", p, err)
	}
	return NewSnapshot(p, b), nil
}

func (s *RedisStore) Set(ctx context.Context, path string, value interface{}) error {
	if value == nil {
		return s.Delete(ctx, path)
	}
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	b, err := encode(value)
	if err != nil {
		return err
	}
	if isNull(b) {
		return s.Delete(ctx, p)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queuePut(ctx, pipe, p, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", p, err)
	}
	return nil
}

// Update runs the merge under WATCH so a concurrent writer forces a retry
// instead of losing fields.
func (s *RedisStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	key := s.docKey(p)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		b, err := merge(cur, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queuePut(ctx, pipe, p, b)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis update %s: %w", p, err)
		}
		return nil
	}
	return fmt.Errorf("redis update %s: %w", p, err)
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	parent, key := split(p)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.docKey(p))
		if parent != "" {
			pipe.SRem(ctx, s.idxKey(parent), key)
		}
		pipe.Publish(ctx, s.chanKey(p), "")
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", p, err)
	}
	return nil
}

func (s *RedisStore) Push(ctx context.Context, collection string) (string, error) {
	c, err := CleanPath(collection)
	if err != nil {
		return "", err
	}
	return Join(c, s.keys()), nil
}

func (s *RedisStore) Children(ctx context.Context, collection string) ([]Snapshot, error) {
	c, err := CleanPath(collection)
	if err != nil {
		return nil, err
	}
	keys, err := s.client.SMembers(ctx, s.idxKey(c)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis children %s: %w", c, err)
	}
	if len(keys) == 0 {
		return []Snapshot{}, nil
	}
	sort.Strings(keys)

	docKeys := make([]string, len(keys))
	for i, k := range keys {
		docKeys[i] = s.docKey(Join(c, k))
	}
	vals, err := s.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis children %s: %w", c, err)
	}

	out := make([]Snapshot, 0, len(keys))
	for i, v := range vals {
		body, ok := v.(string)
		if !ok {
			// index entry outlived its document
			continue
		}
		out = append(out, NewSnapshot(Join(c, keys[i]), []byte(body)))
	}
	return out, nil
}

// Subscribe confirms the channel subscription before reading the current
// value, so no change between the read and the first message is lost. A
// change racing the read may be delivered twice.
func (s *RedisStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}

	ps := s.client.Subscribe(ctx, s.chanKey(p))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", p, err)
	}
	initial, err := s.Get(ctx, p)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	ch := ps.Channel()
	go func() {
		fn(initial)
		for msg := range ch {
			fn(NewSnapshot(p, []byte(msg.Payload)))
		}
	}()

	return func() { _ = ps.Close() }, nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) queuePut(ctx context.Context, pipe redis.Pipeliner, p string, b []byte) {
	pipe.Set(ctx, s.docKey(p), b, 0)
	if parent, key := split(p); parent != "" {
		pipe.SAdd(ctx, s.idxKey(parent), key)
	}
	pipe.Publish(ctx, s.chanKey(p), b)
}
