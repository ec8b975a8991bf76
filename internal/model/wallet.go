package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kinds of LastTransaction. Unlike TransactionType they tell the two legs of
// a transfer apart.
const (
	LastTransactionCashIn      = "cash_in"
	LastTransactionTransferOut = "transfer_out"
	LastTransactionTransferIn  = "transfer_in"
)

// Wallet lives at users/{userId}/wallet. It is created lazily by the first
// deposit or incoming transfer and never deleted.
type Wallet struct {
	Balance         decimal.Decimal  `json:"balance"`
	Currency        string           `json:"currency"`
	LastTransaction *LastTransaction `json:"lastTransaction,omitempty"`
}

// LastTransaction is a display cache of the latest movement. The
// transaction log is authoritative.
type LastTransaction struct {
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	RecipientName string          `json:"recipientName,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
