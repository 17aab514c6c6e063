package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vtuber-backend/internal/storage"
	"vtuber-backend/pkg/logger"
)

// HistoryHandler exposes the conversation memory kept per character.
type HistoryHandler struct {
	store storage.HistoryStore
}

func NewHistoryHandler(store storage.HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// GetHistory handles GET /api/history/:conf_uid?limit=N.
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	key := c.Param("conf_uid")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	messages, err := h.store.Recent(c.Request.Context(), key, limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conf_uid": key,
		"messages": messages,
	})
}

// ClearHistory handles DELETE /api/history/:conf_uid.
func (h *HistoryHandler) ClearHistory(c *gin.Context) {
	key := c.Param("conf_uid")
	if err := h.store.Clear(c.Request.Context(), key); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history cleared"})
}

func (h *HistoryHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrInvalidKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Errorf("History request failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
}
