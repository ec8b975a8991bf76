package repository

import (
	"context"

	"magnetar/internal/model"
	"magnetar/internal/store"
)

type ConversationRepository struct {
	store store.RecordStore
}

func NewConversationRepository(s store.RecordStore) *ConversationRepository {
	return &ConversationRepository{store: s}
}

// Create stores conv under a new key of the user's collection and fills in
// conv.ID.
func (r *ConversationRepository) Create(ctx context.Context, conv *model.Conversation) (string, error) {
	if err := store.CheckKey(conv.UserID); err != nil {
		return "", err
	}
	path, err := r.store.Push(ctx, UserConversationsPath(conv.UserID))
	if err != nil {
		return "", err
	}
	conv.ID = store.KeyOf(path)
	if err := r.store.Set(ctx, path, conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// Save overwrites an existing conversation.
func (r *ConversationRepository) Save(ctx context.Context, conv *model.Conversation) error {
	if err := checkConversationKeys(conv.UserID, conv.ID); err != nil {
		return err
	}
	return r.store.Set(ctx, ConversationPath(conv.UserID, conv.ID), conv)
}

// GetByID returns nil, nil when the conversation does not exist.
func (r *ConversationRepository) GetByID(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	if err := checkConversationKeys(userID, conversationID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, ConversationPath(userID, conversationID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	var conv model.Conversation
	if err := snap.Decode(&conv); err != nil {
		return nil, err
	}
	conv.ID = snap.Key()
	return &conv, nil
}

func (r *ConversationRepository) ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error) {
	if err := store.CheckKey(userID); err != nil {
		return nil, err
	}
	snaps, err := r.store.Children(ctx, UserConversationsPath(userID))
	if err != nil {
		return nil, err
	}

	convs := make([]*model.Conversation, 0, len(snaps))
	for _, snap := range snaps {
		var conv model.Conversation
		if err := snap.Decode(&conv); err != nil {
			return nil, err
		}
		conv.ID = snap.Key()
		convs = append(convs, &conv)
	}
	return convs, nil
}

func (r *ConversationRepository) Delete(ctx context.Context, userID, conversationID string) error {
	if err := checkConversationKeys(userID, conversationID); err != nil {
		return err
	}
	return r.store.Delete(ctx, ConversationPath(userID, conversationID))
}

func checkConversationKeys(userID, conversationID string) error {
	if err := store.CheckKey(userID); err != nil {
		return err
	}
	return store.CheckKey(conversationID)
}
