package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dm-service/internal/messaging"
	"dm-service/internal/models"
)

// MessageService is the messaging surface the HTTP layer needs.
type MessageService interface {
	SendMessage(ctx context.Context, viewerID, recipientID int, text string) (models.MessageSummary, error)
	OpenThread(ctx context.Context, viewerID, otherID int) (models.OpenedThread, error)
	ListContainer(ctx context.Context, viewerID int, container string) ([]models.MessageSummary, error)
	DeleteMessage(ctx context.Context, viewerID int, messageID string) error
	UnreadCount(ctx context.Context, viewerID int) (int, error)
}

// MessageHandler serves the direct message endpoints.
type MessageHandler struct {
	service MessageService
	log     *zap.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(service MessageService, log *zap.Logger) *MessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageHandler{service: service, log: log}
}

// Register mounts the endpoints behind auth.
func (h *MessageHandler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	r.POST("/messages", auth, h.SendMessage)
	r.GET("/messages", auth, h.ListContainer)
	r.GET("/messages/unread-count", auth, h.UnreadCount)
	r.GET("/messages/thread/:user_id", auth, h.OpenThread)
	r.DELETE("/messages/:message_id", auth, h.DeleteMessage)
}

type sendMessageRequest struct {
	RecipientID int    `json:"recipient_id" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

// SendMessage stores a message for the recipient.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), c.GetInt("userID"), req.RecipientID, req.Text)
	if err != nil {
		h.writeError(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// OpenThread returns the conversation with another member and marks it read.
func (h *MessageHandler) OpenThread(c *gin.Context) {
	otherID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	thread, err := h.service.OpenThread(c.Request.Context(), c.GetInt("userID"), otherID)
	if err != nil {
		h.writeError(c, err, "failed to load thread")
		return
	}
	c.JSON(http.StatusOK, thread)
}

// ListContainer returns the inbox (default) or the outbox.
func (h *MessageHandler) ListContainer(c *gin.Context) {
	msgs, err := h.service.ListContainer(c.Request.Context(), c.GetInt("userID"), c.Query("container"))
	if err != nil {
		h.writeError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// DeleteMessage hides a message for the caller.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	if err := h.service.DeleteMessage(c.Request.Context(), c.GetInt("userID"), c.Param("message_id")); err != nil {
		h.writeError(c, err, "failed to delete message")
		return
	}
	c.Status(http.StatusNoContent)
}

// UnreadCount returns the caller's unread badge.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	count, err := h.service.UnreadCount(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		h.writeError(c, err, "failed to count unread messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *MessageHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, messaging.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	case errors.Is(err, messaging.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
	case errors.Is(err, messaging.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, messaging.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, slow down"})
	default:
		_ = c.Error(err)
		h.log.Error(fallback, zap.Int("user_id", c.GetInt("userID")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
