package repository

import (
	"context"

	"magnetar/internal/model"
	"magnetar/internal/store"

	"github.com/sirupsen/logrus"
)

type QuotaRepository struct {
	store store.RecordStore
	log   logrus.FieldLogger
}

func NewQuotaRepository(s store.RecordStore, log logrus.FieldLogger) *QuotaRepository {
	return &QuotaRepository{store: s, log: log}
}

// GetByUserID returns nil, nil when the user has no quota yet.
func (r *QuotaRepository) GetByUserID(ctx context.Context, userID string) (*model.TokenQuota, error) {
	if err := store.CheckKey(userID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, QuotaPath(userID))
	if err != nil {
		return nil, err
	}
	return decodeQuota(snap)
}

func (r *QuotaRepository) Save(ctx context.Context, userID string, q *model.TokenQuota) error {
	if err := store.CheckKey(userID); err != nil {
		return err
	}
	return r.store.Set(ctx, QuotaPath(userID), q)
}

// Subscribe calls fn with the decoded quota on every change, nil when the
// record does not exist. Undecodable snapshots are logged and skipped.
func (r *QuotaRepository) Subscribe(ctx context.Context, userID string, fn func(*model.TokenQuota)) (store.Unsubscribe, error) {
	if err := store.CheckKey(userID); err != nil {
		return nil, err
	}
	return r.store.Subscribe(ctx, QuotaPath(userID), func(snap store.Snapshot) {
		q, err := decodeQuota(snap)
		if err != nil {
			r.log.WithError(err).WithField("user_id", userID).Warn("skipping undecodable quota snapshot")
			return
		}
		fn(q)
	})
}

func decodeQuota(snap store.Snapshot) (*model.TokenQuota, error) {
	if !snap.Exists() {
		return nil, nil
	}
	var q model.TokenQuota
	if err := snap.Decode(&q); err != nil {
		return nil, err
	}
	return &q, nil
}
