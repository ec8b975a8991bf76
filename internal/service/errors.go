package service

import "errors"

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrInvalidTokens        = errors.New("tokens used must not be negative")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
)
