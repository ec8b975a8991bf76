package service

import (
	"context"
	"fmt"
	"sort"

	"magnetar/internal/infrastructure/lock"
	"magnetar/internal/model"
	"magnetar/internal/repository"
	"magnetar/internal/store"

	"github.com/sirupsen/logrus"
)

// ConversationService stores persona chats and charges their tokens to the
// user's quota.
type ConversationService struct {
	conversations *repository.ConversationRepository
	quota         *QuotaService
	locker        lock.Locker
	log           logrus.FieldLogger
	opts          options
}

func NewConversationService(s store.RecordStore, quota *QuotaService, locker lock.Locker, log logrus.FieldLogger, opts ...Option) *ConversationService {
	return &ConversationService{
		conversations: repository.NewConversationRepository(s),
		quota:         quota,
		locker:        locker,
		log:           log,
		opts:          applyOptions(opts),
	}
}

type SaveConversationRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	PersonaID   string          `json:"persona_id" binding:"required"`
	PersonaName string          `json:"persona_name"`
	Messages    []model.Message `json:"messages"`
	TokensUsed  int64           `json:"tokens_used"`
}

// SaveConversation keeps one conversation per persona: an existing one gets
// the new messages and accumulates tokens, otherwise a new one is created.
// The tokens are then consumed from the user's quota.
func (s *ConversationService) SaveConversation(ctx context.Context, req *SaveConversationRequest) (string, error) {
	if req.TokensUsed < 0 {
		return "", ErrInvalidTokens
	}
	if err := store.CheckKey(req.UserID); err != nil {
		return "", err
	}

	id, err := s.upsert(ctx, req)
	if err != nil {
		return "", err
	}

	if _, err := s.quota.ConsumeTokens(ctx, req.UserID, req.TokensUsed); err != nil {
		return "", fmt.Errorf("consume tokens: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":         req.UserID,
		"persona_id":      req.PersonaID,
		"conversation_id": id,
		"tokens_used":     req.TokensUsed,
	}).Debug("conversation saved")
	return id, nil
}

// upsert holds a conversations lock separate from the user lock, which
// ConsumeTokens takes afterwards.
func (s *ConversationService) upsert(ctx context.Context, req *SaveConversationRequest) (string, error) {
	release, err := s.locker.Acquire(ctx, "conversations:"+req.UserID)
	if err != nil {
		return "", fmt.Errorf("lock conversations: %w", err)
	}
	defer release()

	convs, err := s.conversations.ListByUserID(ctx, req.UserID)
	if err != nil {
		return "", err
	}

	now := s.opts.now()
	messages := req.Messages
	if messages == nil {
		messages = []model.Message{}
	}

	for _, conv := range convs {
		if conv.PersonaID != req.PersonaID {
			continue
		}
		conv.UserID = req.UserID
		conv.Messages = messages
		conv.UpdatedAt = now
		conv.TokensUsed += req.TokensUsed
		if err := s.conversations.Save(ctx, conv); err != nil {
			return "", err
		}
		return conv.ID, nil
	}

	return s.conversations.Create(ctx, &model.Conversation{
		UserID:      req.UserID,
		PersonaID:   req.PersonaID,
		PersonaName: req.PersonaName,
		Messages:    messages,
		TokensUsed:  req.TokensUsed,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// GetUserConversations returns the user's conversations, most recently
// updated first.
func (s *ConversationService) GetUserConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	convs, err := s.conversations.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	return convs, nil
}

func (s *ConversationService) GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// DeleteConversation succeeds for conversations that are already gone.
func (s *ConversationService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	return s.conversations.Delete(ctx, userID, conversationID)
}
