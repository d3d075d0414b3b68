package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleListPendingReviews lists reviews awaiting a decision.
func (h *Handlers) HandleListPendingReviews(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListPendingReviews(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list reviews: %v", err)), nil
	}

	text, err := formatReviewList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reviews: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleProcessReview approves or rejects one review.
func (h *Handlers) HandleProcessReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("review_id", "")
	if id == "" {
		return mcp.NewToolResultError("review_id is required"), nil
	}
	approved, ok := req.GetArguments()["approved"].(bool)
	if !ok {
		return mcp.NewToolResultError("approved must be true or false"), nil
	}
	comments := req.GetString("comments", "")

	raw, err := h.client.ProcessReview(ctx, id, approved, comments)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to process review: %v", err)), nil
	}

	var resp struct {
		Approval map[string]any `json:"approval"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Approval == nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	a := resp.Approval
	return mcp.NewToolResultText(fmt.Sprintf("Review %s is now %s (decided by %s).",
		getString(a, "id"), getString(a, "status"), getString(a, "decidedBy"))), nil
}

// HandleArchiveReviews runs one archival sweep.
func (h *Handlers) HandleArchiveReviews(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ArchiveReviews(ctx, req.GetInt("days_old", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to archive: %v", err)), nil
	}

	var resp struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Result == nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	reviews, _ := getFloat(resp.Result, "approvalCount")
	notes, _ := getFloat(resp.Result, "notificationCount")
	return mcp.NewToolResultText(fmt.Sprintf("Archived %.0f review(s) and %.0f notification(s).", reviews, notes)), nil
}

// HandleQueryAuditLogs searches the audit trail.
func (h *Handlers) HandleQueryAuditLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.QueryAuditLogs(ctx, AuditQuery{
		OperationType: req.GetString("operation_type", ""),
		ActorID:       req.GetString("actor_id", ""),
		RiskLevel:     req.GetString("risk_level", ""),
		From:          req.GetString("from", ""),
		To:            req.GetString("to", ""),
		Limit:         req.GetInt("limit", 20),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query audit logs: %v", err)), nil
	}

	text, err := formatAuditEntries(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse audit logs: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleEvaluateOperation asks for a decision without executing.
func (h *Handlers) HandleEvaluateOperation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opType := req.GetString("operation_type", "")
	if opType == "" {
		return mcp.NewToolResultError("operation_type is required"), nil
	}
	data, ok := req.GetArguments()["operation_data"].(map[string]any)
	if !ok || len(data) == 0 {
		return mcp.NewToolResultError("operation_data is required"), nil
	}
	actor := req.GetString("actor_id", "mcp")

	raw, err := h.client.EvaluateOperation(ctx, opType, data, actor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate operation: %v", err)), nil
	}

	text, err := formatEvaluation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse evaluation: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListNotifications lists recorded notifications.
func (h *Handlers) HandleListNotifications(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListNotifications(ctx, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list notifications: %v", err)), nil
	}

	var resp struct {
		Notifications []map[string]any `json:"notifications"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse notifications: %v", err)), nil
	}
	if len(resp.Notifications) == 0 {
		return mcp.NewToolResultText("No notifications recorded."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d notification(s):\n\n", len(resp.Notifications))
	for i, n := range resp.Notifications {
		fmt.Fprintf(&sb, "%d. [%s] %s via %s\n", i+1, getString(n, "type"), getString(n, "subject"), getString(n, "provider"))
		fmt.Fprintf(&sb, "   to %s at %s\n", getString(n, "recipient"), getString(n, "timestamp"))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

func formatReviewList(raw json.RawMessage) (string, error) {
	var resp struct {
		Approvals []map[string]any `json:"approvals"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Approvals) == 0 {
		return "No pending reviews.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pending review(s):\n\n", len(resp.Approvals))
	for i, a := range resp.Approvals {
		fmt.Fprintf(&sb, "%d. [%s] %s  id=%s\n", i+1, getString(a, "priority"), getString(a, "type"), getString(a, "id"))
		fmt.Fprintf(&sb, "   requested by %s at %s\n", getString(a, "requestedBy"), getString(a, "requestedAt"))
		if payload, ok := a["payload"].(map[string]any); ok {
			if amount := getString(payload, "amount"); amount != "" {
				fmt.Fprintf(&sb, "   amount: %s\n", amount)
			}
		}
	}
	return sb.String(), nil
}

func formatAuditEntries(raw json.RawMessage) (string, error) {
	var resp struct {
		Domain  string           `json:"domain"`
		Entries []map[string]any `json:"entries"`
		HasMore bool             `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Entries) == 0 {
		return fmt.Sprintf("No audit entries for %s.", resp.Domain), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d audit entr(ies) for %s:\n\n", len(resp.Entries), resp.Domain)
	for i, e := range resp.Entries {
		fmt.Fprintf(&sb, "%d. %s  %s  risk=%s amount=%s",
			i+1, getString(e, "timestamp"), getString(e, "operationType"),
			getString(e, "riskLevel"), getString(e, "amount"))
		if actor := getString(e, "actorId"); actor != "" {
			fmt.Fprintf(&sb, " actor=%s", actor)
		}
		if v, ok := e["approved"].(bool); ok {
			fmt.Fprintf(&sb, " approved=%t", v)
		}
		sb.WriteString("\n")
	}
	if resp.HasMore {
		sb.WriteString("\nMore entries exist; narrow the query or raise the limit.")
	}
	return sb.String(), nil
}

func formatEvaluation(raw json.RawMessage) (string, error) {
	var resp struct {
		LogResult map[string]any `json:"logResult"`
		Decision  map[string]any `json:"decision"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Decision == nil {
		return "", fmt.Errorf("no decision in response")
	}
	d := resp.Decision

	var sb strings.Builder
	if approved, _ := d["approved"].(bool); approved {
		sb.WriteString("Decision: APPROVED\n")
	} else {
		sb.WriteString("Decision: DENIED\n")
	}
	fmt.Fprintf(&sb, "  Reason: %s\n", getString(d, "reason"))
	fmt.Fprintf(&sb, "  Risk: %s\n", getString(d, "riskLevel"))
	if v, _ := d["requiresManualReview"].(bool); v {
		sb.WriteString("  Requires manual review\n")
	}
	if v, _ := d["failSafe"].(bool); v {
		sb.WriteString("  Fail-safe applied: the approval authority was unavailable\n")
	}
	if id := getString(d, "reviewId"); id != "" {
		fmt.Fprintf(&sb, "  Review queued: %s\n", id)
	}
	if resp.LogResult != nil {
		if id := getString(resp.LogResult, "auditEntryId"); id != "" {
			fmt.Fprintf(&sb, "  Audit entry: %s\n", id)
		}
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
