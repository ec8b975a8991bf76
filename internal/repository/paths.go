package repository

import "magnetar/internal/store"

// Collections and per-user documents of the record store.
const (
	TransactionsCollection  = "transactions"
	OutboxCollection        = "outbox"
	OutboxPendingCollection = "outbox_pending"
	OutboxFailedCollection  = "outbox_failed"
	ConversationsCollection = "conversations"
)

func WalletPath(userID string) string {
	return store.Join("users", userID, "wallet")
}

func QuotaPath(userID string) string {
	return store.Join("users", userID, "personaTokens")
}

func UserConversationsPath(userID string) string {
	return store.Join(ConversationsCollection, userID)
}

func ConversationPath(userID, conversationID string) string {
	return store.Join(ConversationsCollection, userID, conversationID)
}
