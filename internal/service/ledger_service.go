package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"magnetar/internal/infrastructure/lock"
	"magnetar/internal/model"
	"magnetar/internal/repository"
	"magnetar/internal/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultTransferDescription = "Transfer"

// LedgerService moves money into and between wallets and keeps the
// transaction log.
//
// Every mutation holds the per-user lock of each wallet it touches for the
// whole read-check-write sequence, so concurrent transfers from one sender
// cannot overdraw it. The store has no multi-path transactions: a failing
// write leaves the earlier writes in place and the error is returned as is.
type LedgerService struct {
	wallets      *repository.WalletRepository
	transactions *repository.TransactionRepository
	outbox       *repository.OutboxRepository
	locker       lock.Locker
	log          logrus.FieldLogger
	currency     string
	opts         options
}

func NewLedgerService(s store.RecordStore, locker lock.Locker, currency string, log logrus.FieldLogger, opts ...Option) *LedgerService {
	return &LedgerService{
		wallets:      repository.NewWalletRepository(s),
		transactions: repository.NewTransactionRepository(s),
		outbox:       repository.NewOutboxRepository(s),
		locker:       locker,
		log:          log,
		currency:     currency,
		opts:         applyOptions(opts),
	}
}

// TransferResult identifies the two log entries of one transfer.
type TransferResult struct {
	TransferID string `json:"transfer_id"`
	OutgoingID string `json:"outgoing_id"`
	IncomingID string `json:"incoming_id"`
}

// Deposit credits amount to userID and returns the id of the cash-in log
// entry. Unknown users get a wallet. Two identical calls credit twice.
func (s *LedgerService) Deposit(ctx context.Context, userID string, amount decimal.Decimal, method string) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	if err := store.CheckKey(userID); err != nil {
		return "", err
	}

	release, err := lock.AcquireAll(ctx, s.locker, lock.UserKey(userID))
	if err != nil {
		return "", fmt.Errorf("lock wallet: %w", err)
	}
	defer release()

	now := s.opts.now()
	trans := &model.Transaction{
		UserID:      userID,
		Type:        model.TransactionTypeCashIn,
		Amount:      amount,
		Description: fmt.Sprintf("Cash in via %s", method),
		Method:      method,
		Status:      model.TransactionStatusCompleted,
		Timestamp:   now,
	}
	// the log entry is durable before the balance moves
	transactionID, err := s.transactions.Create(ctx, trans)
	if err != nil {
		return "", err
	}

	err = s.credit(ctx, userID, amount, &model.LastTransaction{
		Type:      model.LastTransactionCashIn,
		Amount:    amount,
		Timestamp: now,
	})
	if err != nil {
		return "", err
	}

	s.emit(ctx, model.EventCashIn, userID, map[string]interface{}{
		"transaction_id": transactionID,
		"user_id":        userID,
		"amount":         amount,
		"method":         method,
		"timestamp":      now.Format(time.RFC3339Nano),
	})

	s.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"amount":         amount.String(),
		"method":         method,
		"transaction_id": transactionID,
	}).Info("cash-in completed")
	return transactionID, nil
}

// Transfer moves amount from senderID to recipientID. A missing sender
// wallet or a balance below amount fails with ErrInsufficientFunds before
// anything is written. Sending to oneself is allowed and nets to zero.
func (s *LedgerService) Transfer(ctx context.Context, senderID, recipientID, recipientName string, amount decimal.Decimal, description string) (*TransferResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := store.CheckKey(senderID); err != nil {
		return nil, err
	}
	if err := store.CheckKey(recipientID); err != nil {
		return nil, err
	}
	if description == "" {
		description = defaultTransferDescription
	}

	release, err := lock.AcquireAll(ctx, s.locker, lock.UserKey(senderID), lock.UserKey(recipientID))
	if err != nil {
		return nil, fmt.Errorf("lock wallets: %w", err)
	}
	defer release()

	sender, err := s.wallets.GetByUserID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender %s has no wallet", ErrInsufficientFunds, senderID)
	}
	if sender.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, sender.Balance, amount)
	}

	now := s.opts.now()
	result := &TransferResult{TransferID: s.opts.newID()}

	// 1. outgoing leg
	result.OutgoingID, err = s.transactions.Create(ctx, &model.Transaction{
		UserID:        senderID,
		Type:          model.TransactionTypeTransfer,
		Amount:        amount.Neg(),
		Description:   description,
		RecipientID:   recipientID,
		RecipientName: recipientName,
		TransferID:    result.TransferID,
		Status:        model.TransactionStatusCompleted,
		Timestamp:     now,
	})
	if err != nil {
		return nil, err
	}

	// 2. incoming leg; the counterparty is the sender
	result.IncomingID, err = s.transactions.Create(ctx, &model.Transaction{
		UserID:      recipientID,
		Type:        model.TransactionTypeTransfer,
		Amount:      amount,
		Description: description,
		RecipientID: senderID,
		TransferID:  result.TransferID,
		Status:      model.TransactionStatusCompleted,
		Timestamp:   now,
	})
	if err != nil {
		return nil, err
	}

	// 3. debit sender
	err = s.wallets.UpdateBalance(ctx, senderID, sender.Balance.Sub(amount), &model.LastTransaction{
		Type:          model.LastTransactionTransferOut,
		Amount:        amount.Neg(),
		RecipientName: recipientName,
		Timestamp:     now,
	})
	if err != nil {
		return nil, err
	}

	// 4. credit recipient, re-read so a self transfer sees the debit
	err = s.credit(ctx, recipientID, amount, &model.LastTransaction{
		Type:      model.LastTransactionTransferIn,
		Amount:    amount,
		Timestamp: now,
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, model.EventTransfer, senderID, map[string]interface{}{
		"transfer_id":    result.TransferID,
		"outgoing_id":    result.OutgoingID,
		"incoming_id":    result.IncomingID,
		"sender_id":      senderID,
		"recipient_id":   recipientID,
		"recipient_name": recipientName,
		"amount":         amount,
		"description":    description,
		"timestamp":      now.Format(time.RFC3339Nano),
	})

	s.log.WithFields(logrus.Fields{
		"transfer_id":  result.TransferID,
		"sender_id":    senderID,
		"recipient_id": recipientID,
		"amount":       amount.String(),
	}).Info("transfer completed")
	return result, nil
}

// GetUserTransactions returns the user's log entries, newest first. Entries
// with the same timestamp are ordered by key, newest key first. The whole
// collection is scanned on every call.
func (s *LedgerService) GetUserTransactions(ctx context.Context, userID string) ([]*model.Transaction, error) {
	transactions, err := s.transactions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(transactions, func(i, j int) bool {
		a, b := transactions[i], transactions[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	})
	return transactions, nil
}

// GetTransaction returns one log entry of userID. Entries of other users
// are reported as missing.
func (s *LedgerService) GetTransaction(ctx context.Context, userID, transactionID string) (*model.Transaction, error) {
	trans, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if trans == nil || trans.UserID != userID {
		return nil, ErrTransactionNotFound
	}
	return trans, nil
}

// GetWalletBalance returns zero for users without a wallet.
func (s *LedgerService) GetWalletBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	w, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if w == nil {
		return decimal.Zero, nil
	}
	return w.Balance, nil
}

// GetWallet returns an empty wallet in the default currency for users
// without one. Nothing is written.
func (s *LedgerService) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return &model.Wallet{Balance: decimal.Zero, Currency: s.currency}, nil
	}
	if w.Currency == "" {
		w.Currency = s.currency
	}
	return w, nil
}

// credit adds amount to userID's wallet, creating it when missing. Caller
// holds the user's lock.
func (s *LedgerService) credit(ctx context.Context, userID string, amount decimal.Decimal, last *model.LastTransaction) error {
	w, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if w == nil {
		return s.wallets.Create(ctx, userID, &model.Wallet{
			Balance:         amount,
			Currency:        s.currency,
			LastTransaction: last,
		})
	}
	return s.wallets.UpdateBalance(ctx, userID, w.Balance.Add(amount), last)
}

// emit appends a ledger event to the outbox. The ledger write already
// happened, so a failure here is logged and not returned.
func (s *LedgerService) emit(ctx context.Context, eventType, key string, payload map[string]interface{}) {
	if s.opts.eventTopic == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).WithField("event", eventType).Error("encode ledger event")
		return
	}
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.opts.eventTopic,
		EventType:  eventType,
		Payload:    body,
	}
	if err := s.outbox.Create(ctx, msg); err != nil {
		s.log.WithError(err).WithField("event", eventType).Error("write ledger event to outbox")
	}
}
