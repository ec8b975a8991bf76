package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Ledger event names carried in OutboxMessage.EventType.
const (
	EventCashIn   = "wallet.cash_in"
	EventTransfer = "wallet.transfer"
)

// OutboxMessage lives at outbox/{id} until the outbox sender relays it.
type OutboxMessage struct {
	ID         string          `json:"id"`
	MessageKey string          `json:"messageKey"`
	Topic      string          `json:"topic"`
	EventType  string          `json:"eventType"`
	Payload    json.RawMessage `json:"payload"`
	Status     string          `json:"status"`
	RetryCount int             `json:"retryCount"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
