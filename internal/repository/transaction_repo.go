package repository

import (
	"context"

	"magnetar/internal/model"
	"magnetar/internal/store"
)

type TransactionRepository struct {
	store store.RecordStore
}

func NewTransactionRepository(s store.RecordStore) *TransactionRepository {
	return &TransactionRepository{store: s}
}

// Create appends trans under a generated key, stores the key in trans.ID
// and returns it.
func (r *TransactionRepository) Create(ctx context.Context, trans *model.Transaction) (string, error) {
	path, err := r.store.Push(ctx, TransactionsCollection)
	if err != nil {
		return "", err
	}
	trans.ID = store.KeyOf(path)
	if err := r.store.Set(ctx, path, trans); err != nil {
		return "", err
	}
	return trans.ID, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := store.CheckKey(id); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, store.Join(TransactionsCollection, id))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	var trans model.Transaction
	if err := snap.Decode(&trans); err != nil {
		return nil, err
	}
	trans.ID = snap.Key()
	return &trans, nil
}

// ListByUserID scans the whole collection and keeps the user's entries, in
// key order. The cost grows with every transaction in the system.
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string) ([]*model.Transaction, error) {
	snaps, err := r.store.Children(ctx, TransactionsCollection)
	if err != nil {
		return nil, err
	}

	transactions := make([]*model.Transaction, 0)
	for _, snap := range snaps {
		var trans model.Transaction
		if err := snap.Decode(&trans); err != nil {
			return nil, err
		}
		if trans.UserID != userID {
			continue
		}
		trans.ID = snap.Key()
		transactions = append(transactions, &trans)
	}
	return transactions, nil
}
