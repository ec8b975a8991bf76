package service

import (
	"time"

	"github.com/google/uuid"
)

type options struct {
	now        func() time.Time
	newID      func() string
	eventTopic string
}

func defaultOptions() options {
	return options{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Option customises a service.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces the transfer id generator.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithEventTopic makes the ledger append an outbox event for topic after
// every deposit and transfer. Empty disables events.
func WithEventTopic(topic string) Option {
	return func(o *options) { o.eventTopic = topic }
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
