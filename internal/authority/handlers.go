package authority

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sovereign/internal/approval"
	"github.com/mbd888/sovereign/internal/operation"
)

// Handler serves the authority decision endpoint.
type Handler struct {
	policy *Policy
}

// NewHandler creates a new authority handler.
func NewHandler(policy *Policy) *Handler {
	return &Handler{policy: policy}
}

// RegisterRoutes sets up authority routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/authority/decisions", h.Decide)
}

// Decide handles POST /v1/authority/decisions
func (h *Handler) Decide(c *gin.Context) {
	var req approval.AuthorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if _, err := operation.ParseAmount(req.OperationData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
		return
	}

	resp, err := h.policy.Decide(c.Request.Context(), &req)
	var rejection *approval.RejectionError
	switch {
	case errors.As(err, &rejection):
		c.JSON(rejection.StatusCode, gin.H{"error": "rejected", "message": rejection.Message})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "authority_unavailable",
			"message": "Policy evaluation failed",
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}
