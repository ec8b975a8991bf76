package job

import (
	"context"
	"sync"
	"time"

	"magnetar/internal/config"
	"magnetar/internal/infrastructure/mq"
	"magnetar/internal/model"
	"magnetar/internal/repository"
	"magnetar/internal/store"

	"github.com/sirupsen/logrus"
)

// OutboxSender relays ledger events from outbox/ to the message broker.
// A message that keeps failing is marked FAILED after MaxRetryCount
// attempts and left for manual replay.
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     mq.Publisher
	log           logrus.FieldLogger
	interval      time.Duration
	batchSize     int
	maxRetryCount int
	stopCh        chan struct{}
	stopOnce      sync.Once
}

func NewOutboxSender(s store.RecordStore, publisher mq.Publisher, cfg config.OutboxConfig, log logrus.FieldLogger) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(s),
		publisher:     publisher,
		log:           log.WithField("job", "outbox_sender"),
		interval:      cfg.Interval(),
		batchSize:     cfg.BatchSize,
		maxRetryCount: cfg.MaxRetryCount,
		stopCh:        make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called.
func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender stopped by context")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessPendingMessages sends one batch and returns how many were sent.
func (s *OutboxSender) ProcessPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("list pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	entry := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
		"event": msg.EventType,
	})

	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			// the broker has it; a retry will deliver a duplicate
			entry.WithError(updateErr).Error("mark outbox message sent")
		} else {
			entry.Debug("outbox message sent")
		}
		return true
	}

	entry.WithError(err).Warn("publish outbox message")

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg); err != nil {
		entry.WithError(err).Error("increment outbox retry count")
		return false
	}

	if msg.RetryCount >= s.maxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			entry.WithError(err).Error("mark outbox message failed")
		} else {
			entry.WithField("retry_count", msg.RetryCount).Error("outbox message exceeded max retries")
		}
	}
	return false
}
