package audit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/pagination"
)

// Handler exposes read access to the audit trail of one domain.
type Handler struct {
	logger *Logger
}

// NewHandler creates a new audit handler.
func NewHandler(logger *Logger) *Handler {
	return &Handler{logger: logger}
}

// RegisterRoutes sets up audit read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit/logs", h.ListLogs)
	r.GET("/audit/logs/count", h.CountLogs)
}

// ListLogs handles GET /v1/audit/logs
func (h *Handler) ListLogs(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}
	f.Cursor = cursor
	f.Limit = pagination.ParseLimit(c.Query("limit"))

	page, err := h.logger.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_error",
			"message": "Failed to read audit logs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"domain":     h.logger.Domain(),
		"entries":    page.Entries,
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// CountLogs handles GET /v1/audit/logs/count
func (h *Handler) CountLogs(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	n, err := h.logger.Count(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_error",
			"message": "Failed to count audit logs",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"domain": h.logger.Domain(), "count": n})
}

// parseFilter reads the shared query parameters. A domain parameter is
// ignored on purpose: reads are pinned to the logger's domain.
func parseFilter(c *gin.Context) (Filter, bool) {
	f := Filter{
		OperationType: c.Query("operationType"),
		ActorID:       c.Query("actorId"),
	}
	if rl := c.Query("riskLevel"); rl != "" {
		level := operation.RiskLevel(rl)
		if !level.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_risk_level", "message": "Use LOW, MEDIUM, HIGH or CRITICAL"})
			return f, false
		}
		f.RiskLevel = level
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.Query(p.key); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp", "message": "Use RFC3339 format"})
				return f, false
			}
			*p.dst = ts
		}
	}
	return f, true
}
