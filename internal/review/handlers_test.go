package review

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandler(t *testing.T) (*gin.Engine, *Queue, *fakeClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	q, _, _, clock := newTestQueue()
	r := gin.New()
	NewHandler(q).RegisterRoutes(r.Group("/v1"))
	return r, q, clock
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RequestApproval(t *testing.T) {
	r, _, _ := setupHandler(t)

	w := doJSON(r, http.MethodPost, "/v1/reviews", map[string]any{
		"type":        "treasury_transfer",
		"payload":     map[string]any{"amount": 75000},
		"requestedBy": "ops-bot-1",
		"priority":    "HIGH",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Approval Approval `json:"approval"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusPending, resp.Approval.Status)
	assert.Equal(t, PriorityHigh, resp.Approval.Priority)
	assert.Equal(t, "ops-bot-1", resp.Approval.RequestedBy)
}

func TestHandler_RequestApproval_Validation(t *testing.T) {
	r, _, _ := setupHandler(t)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing type", map[string]any{"payload": map[string]any{}}, "invalid_request"},
		{"bad priority", map[string]any{"type": "x", "priority": "URGENT"}, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/v1/reviews", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp["error"])
		})
	}
}

func TestHandler_ListPending(t *testing.T) {
	r, q, clock := setupHandler(t)
	ctx := context.Background()

	_, err := q.RequestApproval(ctx, Request{Type: "low", Priority: PriorityLow})
	require.NoError(t, err)
	clock.Advance(time.Second)
	crit, err := q.RequestApproval(ctx, Request{Type: "crit", Priority: PriorityCritical})
	require.NoError(t, err)

	w := doJSON(r, http.MethodGet, "/v1/reviews/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Approvals []Approval `json:"approvals"`
		Count     int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, crit.ID, resp.Approvals[0].ID)
}

func TestHandler_ListPending_EmptyIsArray(t *testing.T) {
	r, _, _ := setupHandler(t)
	w := doJSON(r, http.MethodGet, "/v1/reviews/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"approvals":[]`)
}

func TestHandler_GetApproval(t *testing.T) {
	r, q, _ := setupHandler(t)
	a, err := q.RequestApproval(context.Background(), Request{Type: "payment"})
	require.NoError(t, err)

	w := doJSON(r, http.MethodGet, "/v1/reviews/"+a.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/reviews/rev_00000000000000000000000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/reviews/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ProcessApproval(t *testing.T) {
	r, q, _ := setupHandler(t)
	a, err := q.RequestApproval(context.Background(), Request{Type: "payment"})
	require.NoError(t, err)

	w := doJSON(r, http.MethodPost, "/v1/reviews/"+a.ID+"/decision", map[string]any{
		"approved":  false,
		"decidedBy": "carol",
		"comments":  "amount too high",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Approval Approval `json:"approval"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusRejected, resp.Approval.Status)
	assert.Equal(t, "carol", resp.Approval.DecidedBy)

	w = doJSON(r, http.MethodPost, "/v1/reviews/"+a.ID+"/decision", map[string]any{"approved": true})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already_processed")
}

func TestHandler_ProcessApproval_RequiresApprovedField(t *testing.T) {
	r, q, _ := setupHandler(t)
	a, err := q.RequestApproval(context.Background(), Request{Type: "payment"})
	require.NoError(t, err)

	w := doJSON(r, http.MethodPost, "/v1/reviews/"+a.ID+"/decision", map[string]any{"decidedBy": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	got, err := q.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestHandler_ProcessApproval_DefaultsDecidedBy(t *testing.T) {
	r, q, _ := setupHandler(t)
	a, err := q.RequestApproval(context.Background(), Request{Type: "payment"})
	require.NoError(t, err)

	w := doJSON(r, http.MethodPost, "/v1/reviews/"+a.ID+"/decision", map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"decidedBy":"admin"`)
}

func TestHandler_Archive(t *testing.T) {
	r, q, clock := setupHandler(t)
	ctx := context.Background()
	a, err := q.RequestApproval(ctx, Request{Type: "payment"})
	require.NoError(t, err)
	_, err = q.ProcessApproval(ctx, a.ID, true, "alice", "")
	require.NoError(t, err)
	clock.Advance(10 * 24 * time.Hour)

	w := doJSON(r, http.MethodPost, "/v1/reviews/archive?daysOld=7", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result ArchiveResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Result.ApprovalCount)
	assert.Equal(t, 7, resp.Result.DaysOld)

	w = doJSON(r, http.MethodPost, "/v1/reviews/archive?daysOld=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
