package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake push keys
// ============================================================================
//
// Every record appended to a collection (transactions, outbox, conversations)
// gets a key generated here. Keys must be:
//   1. unique across processes sharing one store (worker ID)
//   2. chronologically sortable as plain strings, so a collection listing
//      can be ordered without decoding the records
//
// Layout, 63 bits:
//
//   41 bits millisecond timestamp | 10 bits worker ID | 12 bits sequence
//
// PushKey renders the ID zero-padded to 19 decimal digits, which keeps the
// lexicographic order equal to the numeric order.
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	MaxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake generates monotonically increasing IDs for one worker.
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
	now       func() time.Time
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake returns a generator for workerID, which must be in [0, MaxWorkerID].
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("worker id must be between 0 and %d, got %d", MaxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID, now: time.Now}, nil
}

// Init sets up the package generator. Only the first call has any effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID returns the next ID from the package generator, initialising it
// with worker 1 if Init was never called.
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

// Generate returns the next ID.
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	if now < s.timestamp {
		// clock stepped backwards; stay on the last issued millisecond
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = s.now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// PushKey returns the next ID of s formatted as a sortable collection key.
func (s *Snowflake) PushKey() string {
	return formatKey(s.Generate())
}

// PushKey returns a sortable collection key from the package generator.
func PushKey() string {
	return formatKey(NextID())
}

func formatKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}
