package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"magnetar/internal/config"
	"magnetar/internal/infrastructure/lock"
	"magnetar/internal/logger"
	"magnetar/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// faultyStore fails Set and Update calls whose path contains failPath.
type faultyStore struct {
	store.RecordStore
	mu       sync.Mutex
	failPath string
}

func (f *faultyStore) failOn(path string) {
	f.mu.Lock()
	f.failPath = path
	f.mu.Unlock()
}

func (f *faultyStore) shouldFail(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failPath != "" && strings.Contains(path, f.failPath)
}

func (f *faultyStore) Set(ctx context.Context, path string, value interface{}) error {
	if f.shouldFail(path) {
		return errBoom
	}
	return f.RecordStore.Set(ctx, path, value)
}

func (f *faultyStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if f.shouldFail(path) {
		return errBoom
	}
	return f.RecordStore.Update(ctx, path, fields)
}

type fixture struct {
	store         *faultyStore
	locker        *lock.KeyedMutex
	clock         *fakeClock
	ledger        *LedgerService
	quota         *QuotaService
	conversations *ConversationService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	f := &fixture{
		store:  &faultyStore{RecordStore: mem},
		locker: lock.NewKeyedMutex(),
		clock:  newFakeClock(),
	}
	log := logger.Discard()
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)

	f.ledger = NewLedgerService(f.store, f.locker, "PHP", log, opts...)
	f.quota = NewQuotaService(f.store, f.locker, config.QuotaConfig{
		DefaultTokens:      1000,
		RefillIntervalDays: 7,
	}, log, opts...)
	f.conversations = NewConversationService(f.store, f.quota, f.locker, log, opts...)
	return f
}

func dec(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %d, got %s %v", want, got, msgAndArgs)
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.GetWalletBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance %s: %v", userID, err)
	}
	return b
}
