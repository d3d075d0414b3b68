package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/sovereign/internal/security"
)

// Config holds the configuration for connecting to the control plane API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Sent as X-Admin-Secret; empty when the API runs open
	Operator    string // Recorded as decidedBy on review decisions
}

// Client is a pure HTTP client for the control plane's operator API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the control plane.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.AdminSecret != "" {
		req.Header.Set(security.AdminHeader, c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListPendingReviews returns pending manual approvals, highest priority first.
func (c *Client) ListPendingReviews(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/reviews/pending", nil, nil)
}

// ProcessReview records a decision on a pending review.
func (c *Client) ProcessReview(ctx context.Context, id string, approved bool, comments string) (json.RawMessage, error) {
	body := map[string]any{
		"approved":  approved,
		"decidedBy": c.cfg.Operator,
		"comments":  comments,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/reviews/"+url.PathEscape(id)+"/decision", nil, body)
}

// ArchiveReviews archives processed reviews older than daysOld.
func (c *Client) ArchiveReviews(ctx context.Context, daysOld int) (json.RawMessage, error) {
	q := url.Values{}
	if daysOld > 0 {
		q.Set("daysOld", strconv.Itoa(daysOld))
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/reviews/archive", q, nil)
}

// AuditQuery narrows QueryAuditLogs.
type AuditQuery struct {
	OperationType string
	ActorID       string
	RiskLevel     string
	From          string
	To            string
	Limit         int
}

// QueryAuditLogs reads forensic entries, newest first.
func (c *Client) QueryAuditLogs(ctx context.Context, aq AuditQuery) (json.RawMessage, error) {
	q := url.Values{}
	for k, v := range map[string]string{
		"operationType": aq.OperationType,
		"actorId":       aq.ActorID,
		"riskLevel":     aq.RiskLevel,
		"from":          aq.From,
		"to":            aq.To,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if aq.Limit > 0 {
		q.Set("limit", strconv.Itoa(aq.Limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/audit/logs", q, nil)
}

// EvaluateOperation runs pre-log and decide without executing anything.
func (c *Client) EvaluateOperation(ctx context.Context, operationType string, data map[string]any, actorID string) (json.RawMessage, error) {
	body := map[string]any{
		"operationType": operationType,
		"operationData": data,
		"actor":         map[string]any{"id": actorID},
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/approvals/evaluate", nil, body)
}

// ListNotifications returns recorded sovereign notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/notifications", q, nil)
}
