package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dm-service/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt("userID"); userID > 0 {
		value := strconv.Itoa(userID)
		return &value
	}

	if header := c.GetHeader("X-User-ID"); header != "" {
		if parsed, err := strconv.Atoi(header); err == nil && parsed > 0 {
			value := strconv.Itoa(parsed)
			return &value
		}
	}

	return nil
}
