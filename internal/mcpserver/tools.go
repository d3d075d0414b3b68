package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the sovereign operator MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListPendingReviews = mcp.NewTool("list_pending_reviews",
	mcp.WithDescription(
		"List operations waiting for a manual sovereign decision. "+
			"Results are ordered by priority (URGENT first) and then by age. "+
			"Use this before process_review to find the review id."),
)

var ToolProcessReview = mcp.NewTool("process_review",
	mcp.WithDescription(
		"Approve or reject a pending manual review. "+
			"A review can only be decided once; deciding it again fails without changing it."),
	mcp.WithString("review_id",
		mcp.Required(),
		mcp.Description("The review id returned by list_pending_reviews")),
	mcp.WithBoolean("approved",
		mcp.Required(),
		mcp.Description("true to approve, false to reject")),
	mcp.WithString("comments",
		mcp.Description("Optional justification recorded with the decision")),
)

var ToolArchiveReviews = mcp.NewTool("archive_reviews",
	mcp.WithDescription(
		"Archive processed reviews and sent notifications older than the given number of days. "+
			"Pending reviews are never archived."),
	mcp.WithNumber("days_old",
		mcp.Description("Age in days; defaults to 90")),
)

var ToolQueryAuditLogs = mcp.NewTool("query_audit_logs",
	mcp.WithDescription(
		"Search the forensic audit trail for this domain, newest first. "+
			"Every gated operation leaves a pre-execution entry and, when it ran, a _success or _failed entry."),
	mcp.WithString("operation_type",
		mcp.Description("Exact entry type, e.g. 'TRANSFER' or 'TRANSFER_success'")),
	mcp.WithString("actor_id",
		mcp.Description("Only entries created by this actor")),
	mcp.WithString("risk_level",
		mcp.Description("Only entries at this risk level"),
		mcp.Enum("LOW", "MEDIUM", "HIGH", "CRITICAL")),
	mcp.WithString("from",
		mcp.Description("RFC3339 lower bound on the entry timestamp")),
	mcp.WithString("to",
		mcp.Description("RFC3339 upper bound on the entry timestamp")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum entries to return (default 50, max 200)")),
)

var ToolEvaluateOperation = mcp.NewTool("evaluate_operation",
	mcp.WithDescription(
		"Ask the control plane whether an operation would be allowed, without running it. "+
			"The request is still written to the audit trail and may notify the sovereign."),
	mcp.WithString("operation_type",
		mcp.Required(),
		mcp.Description("Operation type, e.g. WITHDRAWAL, TRANSFER, DOMAIN_PURCHASE, PAYMENT"),
		mcp.Enum("WITHDRAWAL", "TRANSFER", "DOMAIN_PURCHASE", "PAYMENT", "REFUND", "ACCOUNT_UPDATE", "DATA_EXPORT", "GENERIC")),
	mcp.WithObject("operation_data",
		mcp.Required(),
		mcp.Description("Operation payload. Include 'amount'; a TRANSFER also needs 'from' and 'to', a WITHDRAWAL needs 'destination'.")),
	mcp.WithString("actor_id",
		mcp.Description("Who is asking; defaults to 'mcp'")),
)

var ToolListNotifications = mcp.NewTool("list_notifications",
	mcp.WithDescription(
		"List recent sovereign notifications with the channel that delivered them."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum notifications to return (default 50)")),
)
