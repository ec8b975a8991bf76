package repository

import (
	"context"

	"magnetar/internal/model"
	"magnetar/internal/store"

	"github.com/shopspring/decimal"
)

type WalletRepository struct {
	store store.RecordStore
}

func NewWalletRepository(s store.RecordStore) *WalletRepository {
	return &WalletRepository{store: s}
}

// GetByUserID returns nil, nil when the user has no wallet yet.
func (r *WalletRepository) GetByUserID(ctx context.Context, userID string) (*model.Wallet, error) {
	if err := store.CheckKey(userID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, WalletPath(userID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	var w model.Wallet
	if err := snap.Decode(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Create overwrites the whole wallet document.
func (r *WalletRepository) Create(ctx context.Context, userID string, w *model.Wallet) error {
	if err := store.CheckKey(userID); err != nil {
		return err
	}
	return r.store.Set(ctx, WalletPath(userID), w)
}

// UpdateBalance patches balance and lastTransaction, leaving currency alone.
func (r *WalletRepository) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal, last *model.LastTransaction) error {
	if err := store.CheckKey(userID); err != nil {
		return err
	}
	return r.store.Update(ctx, WalletPath(userID), map[string]interface{}{
		"balance":         balance,
		"lastTransaction": last,
	})
}
