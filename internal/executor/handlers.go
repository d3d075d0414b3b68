package executor

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/validation"
)

// Handler exposes controlled execution over HTTP.
type Handler struct {
	executor *Executor
	registry *Registry
	domain   string
}

// NewHandler creates a new executor handler. domain is stamped on requests
// that do not name one.
func NewHandler(executor *Executor, registry *Registry, domain string) *Handler {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Handler{executor: executor, registry: registry, domain: domain}
}

// RegisterRoutes sets up execution routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/operations/execute", h.Execute)
	r.GET("/operations/types", h.ListTypes)
	r.POST("/approvals/evaluate", h.Evaluate)
}

// OperationRequest is the wire form of an operation submission.
type OperationRequest struct {
	OperationType string            `json:"operationType" binding:"required"`
	OperationData map[string]any    `json:"operationData" binding:"required"`
	Actor         operation.Actor   `json:"actor"`
	Context       operation.Context `json:"context"`
}

// Execute handles POST /v1/operations/execute
func (h *Handler) Execute(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	body, ok := h.registry.Bind(req)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "not_implemented",
			"message": "No operation body registered for " + string(req.Type),
		})
		return
	}

	res := h.executor.Execute(c.Request.Context(), req, body)
	status := http.StatusOK
	switch {
	case !res.Approved:
		status = http.StatusForbidden
	case !res.Success:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

// Evaluate handles POST /v1/approvals/evaluate
func (h *Handler) Evaluate(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.executor.Evaluate(c.Request.Context(), req))
}

// ListTypes handles GET /v1/operations/types
func (h *Handler) ListTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"catalog":    operation.Catalog(),
		"executable": h.registry.Types(),
	})
}

func (h *Handler) bind(c *gin.Context) (*operation.Request, bool) {
	var in OperationRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "operationType and operationData are required",
		})
		return nil, false
	}

	t, err := operation.ParseType(in.OperationType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation_type", "message": err.Error()})
		return nil, false
	}
	req := &operation.Request{
		Type:    t,
		Data:    in.OperationData,
		Actor:   in.Actor,
		Context: in.Context,
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return nil, false
	}
	if _, err := operation.Decode(t, req.Data); err != nil {
		code := "validation_error"
		if errors.Is(err, operation.ErrMissingField) {
			code = "missing_field"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": err.Error()})
		return nil, false
	}

	req.Actor.ID = validation.SanitizeString(req.Actor.ID, 256)
	ctx := c.Request.Context()
	if req.Context.RequestedAt.IsZero() {
		req.Context.RequestedAt = time.Now().UTC()
	}
	if strings.TrimSpace(req.Context.Domain) == "" {
		req.Context.Domain = h.domain
	}
	if req.Context.CorrelationID == "" {
		req.Context.CorrelationID = firstNonEmpty(
			c.GetHeader("X-Correlation-ID"), logging.CorrelationID(ctx), logging.RequestID(ctx))
	}
	req.Context.IPAddress = c.ClientIP()
	req.Context.UserAgent = c.Request.UserAgent()
	return req, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
