package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PresenceLister reports who is online.
type PresenceLister interface {
	Members() []int
}

// PresenceHandler serves the online member list.
type PresenceHandler struct {
	presence PresenceLister
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(presence PresenceLister) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// ListMembers returns the members currently connected.
func (h *PresenceHandler) ListMembers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"members": h.presence.Members()})
}
