package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBytes caps how much of an authority response is read.
const maxResponseBytes = 1 << 20

// HTTPAuthority consults a remote approval service over HTTP.
type HTTPAuthority struct {
	url    string
	client *http.Client
}

// NewHTTPAuthority creates a client for the authority at url.
func NewHTTPAuthority(url string) *HTTPAuthority {
	return &HTTPAuthority{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (a *HTTPAuthority) WithHTTPClient(c *http.Client) *HTTPAuthority {
	a.client = c
	return a
}

// URL returns the authority endpoint.
func (a *HTTPAuthority) URL() string { return a.url }

// errorBody is the shape of a JSON error answer.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Decide posts the request. Any non-2xx status is an explicit rejection
// carrying the authority's message, or the raw body when it is not JSON.
func (a *HTTPAuthority) Decide(ctx context.Context, req *AuthorityRequest) (*AuthorityResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrEvaluation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrEvaluation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.Context.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-ID", req.Context.CorrelationID)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorityUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrAuthorityUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RejectionError{StatusCode: resp.StatusCode, Message: rejectionMessage(resp.StatusCode, raw)}
	}

	var out AuthorityResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Approved == nil {
		return nil, fmt.Errorf("%w: missing approved field", ErrMalformedResponse)
	}
	return &out, nil
}

func rejectionMessage(status int, raw []byte) string {
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(status)
}
