package review

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sovereign/internal/validation"
)

// Handler provides HTTP endpoints for the manual approval workflow.
type Handler struct {
	queue *Queue
}

// NewHandler creates a new review handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{queue: queue}
}

// RegisterRoutes sets up review routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/reviews", h.RequestApproval)
	r.GET("/reviews/pending", h.ListPending)
	r.POST("/reviews/archive", h.Archive)
	r.GET("/reviews/:id", validation.IDParamMiddleware(), h.GetApproval)
	r.POST("/reviews/:id/decision", validation.IDParamMiddleware(), h.ProcessApproval)
}

// RequestApproval handles POST /v1/reviews
func (h *Handler) RequestApproval(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("type", req.Type),
		validation.MaxLength("type", req.Type, 100),
		validation.OneOf("priority", string(req.Priority),
			string(PriorityCritical), string(PriorityHigh), string(PriorityNormal), string(PriorityLow)),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	req.RequestedBy = validation.SanitizeString(req.RequestedBy, 256)

	a, err := h.queue.RequestApproval(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create approval",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"approval": a})
}

// ListPending handles GET /v1/reviews/pending
func (h *Handler) ListPending(c *gin.Context) {
	items, err := h.queue.GetPendingApprovals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list pending approvals",
		})
		return
	}
	if items == nil {
		items = []*Approval{}
	}
	c.JSON(http.StatusOK, gin.H{"approvals": items, "count": len(items)})
}

// GetApproval handles GET /v1/reviews/:id
func (h *Handler) GetApproval(c *gin.Context) {
	a, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approval": a})
}

// DecisionRequest is the body of POST /v1/reviews/:id/decision.
type DecisionRequest struct {
	Approved  *bool  `json:"approved" binding:"required"`
	DecidedBy string `json:"decidedBy"`
	Comments  string `json:"comments"`
}

// ProcessApproval handles POST /v1/reviews/:id/decision
func (h *Handler) ProcessApproval(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "approved is required",
		})
		return
	}
	if errs := validation.Validate(
		validation.MaxLength("comments", req.Comments, validation.MaxCommentLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	decidedBy := validation.SanitizeString(req.DecidedBy, 256)
	if decidedBy == "" {
		decidedBy = "admin"
	}

	a, err := h.queue.ProcessApproval(c.Request.Context(), c.Param("id"), *req.Approved, decidedBy,
		validation.SanitizeString(req.Comments, validation.MaxCommentLength))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approval": a})
}

// Archive handles POST /v1/reviews/archive?daysOld=90
func (h *Handler) Archive(c *gin.Context) {
	days := DefaultRetentionDays
	if v := c.Query("daysOld"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_days",
				"message": "daysOld must be a positive integer",
			})
			return
		}
		days = n
	}

	result, err := h.queue.ArchiveOldRecords(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to archive records",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "already_processed", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
	}
}
