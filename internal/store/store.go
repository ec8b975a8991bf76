// Package store defines the Record Store contract the ledger and quota
// services are written against, plus its backends.
//
// A Record Store is a tree of JSON documents addressed by slash separated
// paths ("users/u1/wallet"). It offers point reads and writes, a field level
// merge-patch, generated child keys for append-only collections, a scan of
// a collection's direct children, and change subscriptions on a single
// path. It does not offer transactions spanning more than one path; callers
// that need multi-path consistency serialize themselves (see package lock).
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid record path")
	ErrClosed      = errors.New("record store closed")
)

// Unsubscribe stops a subscription. It is safe to call more than once and
// from inside the subscription callback.
type Unsubscribe func()

// RecordStore is implemented by MemoryStore, RedisStore and GormStore.
type RecordStore interface {
	// Get reads the document at path. A missing document is not an error;
	// the returned snapshot reports Exists() == false.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set overwrites the document at path. A nil value deletes it.
	Set(ctx context.Context, path string, value interface{}) error
	// Update merges fields into the document at path, creating it when
	// missing. A nil field value removes that field.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	Delete(ctx context.Context, path string) error
	// Push reserves a new unique child of collection and returns its full
	// path. Nothing is written until the caller Sets that path.
	Push(ctx context.Context, collection string) (string, error)
	// Children returns every direct child document of collection ordered
	// by key.
	Children(ctx context.Context, collection string) ([]Snapshot, error)
	// Subscribe calls fn with the current snapshot of path and then once per
	// observed change, in write order, on a goroutine owned by the store.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)
	Close() error
}

// Snapshot is an immutable view of one document.
type Snapshot struct {
	path string
	raw  json.RawMessage
}

func NewSnapshot(path string, raw []byte) Snapshot {
	if len(raw) == 0 {
		return Snapshot{path: path}
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Snapshot{path: path, raw: cp}
}

func (s Snapshot) Path() string { return s.path }

// Key is the last path segment.
func (s Snapshot) Key() string { return KeyOf(s.path) }

func (s Snapshot) Exists() bool { return len(s.raw) > 0 }

func (s Snapshot) Raw() []byte { return s.raw }

// Decode unmarshals the document into v. Decoding a missing document
// leaves v untouched.
func (s Snapshot) Decode(v interface{}) error {
	if !s.Exists() {
		return nil
	}
	if err := json.Unmarshal(s.raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	return nil
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// CleanPath trims surrounding slashes and validates every segment.
func CleanPath(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return "", fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return "", fmt.Errorf("%w: %q contains a reserved character", ErrInvalidPath, path)
		}
	}
	return p, nil
}

// KeyOf returns the last segment of path.
func KeyOf(path string) string {
	_, key := split(strings.Trim(path, "/"))
	return key
}

// CheckKey validates a single path segment such as a user id.
func CheckKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/.#$[]") {
		return fmt.Errorf("%w: bad key %q", ErrInvalidPath, key)
	}
	return nil
}

// split returns the parent path and the key of p. Top-level paths have an
// empty parent.
func split(p string) (parent, key string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

func encode(value interface{}) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// isNull reports whether b is the JSON null, as produced by a typed nil
// pointer, map or slice. Such values delete instead of being stored.
func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

// merge applies fields on top of the JSON object in current. A current value
// that is missing or not an object is replaced.
func merge(current []byte, fields map[string]interface{}) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &doc); err != nil || doc == nil {
			doc = map[string]json.RawMessage{}
		}
	}
	for name, value := range fields {
		if value == nil {
			delete(doc, name)
			continue
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", name, err)
		}
		if isNull(b) {
			delete(doc, name)
			continue
		}
		doc[name] = b
	}
	return json.Marshal(doc)
}

type options struct {
	keys func() string
}

// Option configures a store backend.
type Option func(*options)

// WithKeyGenerator replaces the push key generator.
func WithKeyGenerator(fn func() string) Option {
	return func(o *options) { o.keys = fn }
}
