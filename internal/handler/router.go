package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter wires middleware and routes around h.
func SetupRouter(h *Handler, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.POST("/cash-in", h.CashIn)
			wallet.POST("/transfer", h.Transfer)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.GET("/transactions/:id", h.GetTransaction)
		}

		quota := api.Group("/quota")
		{
			quota.GET("", h.GetQuota)
			quota.POST("/consume", h.ConsumeTokens)
			quota.GET("/stream", h.StreamQuota)
		}

		conversations := api.Group("/conversations")
		{
			conversations.POST("", h.SaveConversation)
			conversations.GET("", h.ListConversations)
			conversations.GET("/:id", h.GetConversation)
			conversations.DELETE("/:id", h.DeleteConversation)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
