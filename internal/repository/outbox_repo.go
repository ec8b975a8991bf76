package repository

import (
	"context"
	"time"

	"magnetar/internal/model"
	"magnetar/internal/store"
)

// OutboxRepository keeps messages at outbox/{id}. PENDING and FAILED ids are
// also indexed under outbox_pending/{id} and outbox_failed/{id} so that
// listing by status reads only those entries and never the sent history.
type OutboxRepository struct {
	store store.RecordStore
	now   func() time.Time
}

func NewOutboxRepository(s store.RecordStore) *OutboxRepository {
	return &OutboxRepository{store: s, now: time.Now}
}

func (r *OutboxRepository) Create(ctx context.Context, msg *model.OutboxMessage) error {
	path, err := r.store.Push(ctx, OutboxCollection)
	if err != nil {
		return err
	}
	msg.ID = store.KeyOf(path)
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	now := r.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if err := r.store.Set(ctx, path, msg); err != nil {
		return err
	}
	if index := statusIndex(msg.Status); index != "" {
		return r.store.Set(ctx, store.Join(index, msg.ID), true)
	}
	return nil
}

// GetPendingMessages returns up to limit PENDING messages, oldest first.
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	return r.listByStatus(ctx, model.OutboxStatusPending, limit)
}

func (r *OutboxRepository) GetFailedMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	return r.listByStatus(ctx, model.OutboxStatusFailed, limit)
}

// UpdateStatus writes status on the message first and then moves its index
// entry. A crash in between leaves a stale PENDING entry, which the next
// listing drops.
func (r *OutboxRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	if err := r.patch(ctx, id, map[string]interface{}{"status": status}); err != nil {
		return err
	}
	if index := statusIndex(status); index != "" {
		if err := r.store.Set(ctx, store.Join(index, id), true); err != nil {
			return err
		}
	}
	if status != model.OutboxStatusPending {
		return r.store.Delete(ctx, store.Join(OutboxPendingCollection, id))
	}
	return nil
}

// IncrementRetryCount records one more failed attempt on msg.
func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, msg *model.OutboxMessage) error {
	msg.RetryCount++
	return r.patch(ctx, msg.ID, map[string]interface{}{"retryCount": msg.RetryCount})
}

func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, model.OutboxStatusFailed)
}

func (r *OutboxRepository) patch(ctx context.Context, id string, fields map[string]interface{}) error {
	if err := store.CheckKey(id); err != nil {
		return err
	}
	fields["updatedAt"] = r.now()
	return r.store.Update(ctx, store.Join(OutboxCollection, id), fields)
}

func (r *OutboxRepository) listByStatus(ctx context.Context, status string, limit int) ([]*model.OutboxMessage, error) {
	index := statusIndex(status)
	entries, err := r.store.Children(ctx, index)
	if err != nil {
		return nil, err
	}

	messages := make([]*model.OutboxMessage, 0)
	for _, entry := range entries {
		if limit > 0 && len(messages) >= limit {
			break
		}
		snap, err := r.store.Get(ctx, store.Join(OutboxCollection, entry.Key()))
		if err != nil {
			return nil, err
		}
		var msg model.OutboxMessage
		if snap.Exists() {
			if err := snap.Decode(&msg); err != nil {
				return nil, err
			}
		}
		if msg.Status != status {
			if err := r.store.Delete(ctx, entry.Path()); err != nil {
				return nil, err
			}
			continue
		}
		msg.ID = snap.Key()
		messages = append(messages, &msg)
	}
	return messages, nil
}

func statusIndex(status string) string {
	switch status {
	case model.OutboxStatusPending:
		return OutboxPendingCollection
	case model.OutboxStatusFailed:
		return OutboxFailedCollection
	default:
		return ""
	}
}
