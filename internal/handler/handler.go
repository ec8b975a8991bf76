package handler

import (
	"context"
	"errors"
	"io"

	"magnetar/internal/infrastructure/lock"
	"magnetar/internal/model"
	"magnetar/internal/service"
	"magnetar/internal/store"
	"magnetar/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler exposes the ledger, quota and conversation services over HTTP.
type Handler struct {
	ledgerService       *service.LedgerService
	quotaService        *service.QuotaService
	conversationService *service.ConversationService
	log                 logrus.FieldLogger
}

func NewHandler(ledger *service.LedgerService, quota *service.QuotaService, conversations *service.ConversationService, log logrus.FieldLogger) *Handler {
	return &Handler{
		ledgerService:       ledger,
		quotaService:        quota,
		conversationService: conversations,
		log:                 log,
	}
}

// ============================================================
// Wallet
// ============================================================

// GetBalance GET /api/v1/wallet/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	wallet, err := h.ledgerService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":          userID,
		"balance":          wallet.Balance,
		"currency":         wallet.Currency,
		"last_transaction": wallet.LastTransaction,
	})
}

type CashInRequest struct {
	UserID string          `json:"user_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" binding:"required"`
}

// CashIn POST /api/v1/wallet/cash-in
func (h *Handler) CashIn(c *gin.Context) {
	var req CashInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	id, err := h.ledgerService.Deposit(c.Request.Context(), req.UserID, req.Amount, req.Method)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{"transaction_id": id})
}

type TransferRequest struct {
	SenderID      string          `json:"sender_id" binding:"required"`
	RecipientID   string          `json:"recipient_id" binding:"required"`
	RecipientName string          `json:"recipient_name"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

// Transfer POST /api/v1/wallet/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.ledgerService.Transfer(c.Request.Context(), req.SenderID, req.RecipientID, req.RecipientName, req.Amount, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, result)
}

// ListTransactions GET /api/v1/wallet/transactions?user_id=xxx
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	transactions, err := h.ledgerService.GetUserTransactions(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  transactions,
		"total": len(transactions),
	})
}

// GetTransaction GET /api/v1/wallet/transactions/:id?user_id=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	trans, err := h.ledgerService.GetTransaction(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// Quota
// ============================================================

// GetQuota GET /api/v1/quota?user_id=xxx
func (h *Handler) GetQuota(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	q, err := h.quotaService.GetOrInitQuota(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, q)
}

type ConsumeTokensRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Tokens int64  `json:"tokens"`
}

// ConsumeTokens POST /api/v1/quota/consume
func (h *Handler) ConsumeTokens(c *gin.Context) {
	var req ConsumeTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	q, err := h.quotaService.ConsumeTokens(c.Request.Context(), req.UserID, req.Tokens)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, q)
}

// StreamQuota GET /api/v1/quota/stream?user_id=xxx
//
// Server-Sent Events: one "quota" event per snapshot until the client goes
// away.
func (h *Handler) StreamQuota(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	updates := make(chan *model.TokenQuota, 16)
	unsubscribe, err := h.quotaService.SubscribeToQuota(ctx, userID, func(q *model.TokenQuota) {
		select {
		case updates <- q:
		case <-ctx.Done():
		}
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case q := <-updates:
			c.SSEvent("quota", q)
			return true
		}
	})
}

// ============================================================
// Conversations
// ============================================================

// SaveConversation POST /api/v1/conversations
func (h *Handler) SaveConversation(c *gin.Context) {
	var req service.SaveConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	id, err := h.conversationService.SaveConversation(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{"conversation_id": id})
}

// ListConversations GET /api/v1/conversations?user_id=xxx
func (h *Handler) ListConversations(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	convs, err := h.conversationService.GetUserConversations(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  convs,
		"total": len(convs),
	})
}

// GetConversation GET /api/v1/conversations/:id?user_id=xxx
func (h *Handler) GetConversation(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conv, err := h.conversationService.GetConversation(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, conv)
}

// DeleteConversation DELETE /api/v1/conversations/:id?user_id=xxx
func (h *Handler) DeleteConversation(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if err := h.conversationService.DeleteConversation(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, nil)
}

func requireUserID(c *gin.Context) (string, bool) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id is required")
		return "", false
	}
	return userID, true
}

// fail maps service errors onto envelope codes.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrInvalidTokens):
		response.BusinessError(c, response.CodeInvalidTokens, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrConversationNotFound), errors.Is(err, service.ErrTransactionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, store.ErrInvalidPath):
		response.ParamError(c, err.Error())
	case errors.Is(err, lock.ErrLockFailed), errors.Is(err, context.DeadlineExceeded):
		response.BusinessError(c, response.CodeSystemBusy, "system busy, please retry")
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString(requestIDKey),
		}).Error("request failed")
		response.ServerError(c, "internal error")
	}
}
