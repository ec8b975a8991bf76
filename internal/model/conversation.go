package model

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation lives at conversations/{userId}/{id}. A user keeps at most
// one conversation per persona; saving again overwrites its messages.
type Conversation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	PersonaID   string    `json:"personaId"`
	PersonaName string    `json:"personaName"`
	Messages    []Message `json:"messages"`
	TokensUsed  int64     `json:"tokensUsed"` // cumulative across saves
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
