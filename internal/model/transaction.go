package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the kind of ledger event a Transaction records.
type TransactionType string

const (
	TransactionTypeCashIn     TransactionType = "cash_in"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeCommission TransactionType = "commission"
	TransactionTypeBonus      TransactionType = "bonus"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is one entry of the append-only log at transactions/{id}.
//
// Rules:
//  1. written once, never updated or deleted
//  2. Amount is signed: credit positive, debit negative
//  3. both legs of a transfer carry the same TransferID
type Transaction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"` // owner of this entry
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Description   string            `json:"description"`
	RecipientID   string            `json:"recipientId,omitempty"` // counterparty; the sender on an incoming leg
	RecipientName string            `json:"recipientName,omitempty"`
	Method        string            `json:"method,omitempty"` // cash-in rail, display only
	TransferID    string            `json:"transferId,omitempty"`
	Status        TransactionStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
}
