package notify

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sovereign/internal/pagination"
)

// Handler provides HTTP endpoints for the notification log.
type Handler struct {
	log    Log
	stream http.HandlerFunc
}

// NewHandler creates a notification handler. stream may be nil.
func NewHandler(log Log, stream http.HandlerFunc) *Handler {
	return &Handler{log: log, stream: stream}
}

// RegisterRoutes sets up notification routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/notifications", h.ListNotifications)
	if h.stream != nil {
		r.GET("/notifications/stream", gin.WrapF(h.stream))
	}
}

// ListNotifications handles GET /notifications?limit&offset
func (h *Handler) ListNotifications(c *gin.Context) {
	limit := pagination.ParseLimit(c.Query("limit"))
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offset", "message": "offset must be a non-negative integer"})
		return
	}

	items, err := h.log.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "count": len(items), "limit": limit, "offset": offset})
}
