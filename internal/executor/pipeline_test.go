package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sovereign/internal/approval"
	"github.com/mbd888/sovereign/internal/audit"
	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/operation"
)

// authorityServer answers every decision with the given status and body.
func authorityServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const pipelineDomain = "acme.example"

func newPipeline(authorityURL string) (*Executor, *audit.MemoryStore) {
	store := audit.NewMemoryStore()
	logger := audit.NewLogger(store, pipelineDomain, audit.WithLogger(logging.Discard()))
	engine := approval.NewEngine(approval.NewHTTPAuthority(authorityURL), logging.Discard()).
		WithDomain(pipelineDomain)
	return New(logger, engine, logging.Discard()), store
}

func entryTypes(t *testing.T, store *audit.MemoryStore) []string {
	t.Helper()
	entries, err := store.List(context.Background(), audit.Filter{Domain: pipelineDomain})
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.OperationType
	}
	return out
}

func TestEntryTypes_IgnoresOtherDomains(t *testing.T) {
	store := audit.NewMemoryStore()
	other := audit.NewLogger(store, "other.example", audit.WithLogger(logging.Discard()))
	other.Log(context.Background(), transfer(10))

	mine := audit.NewLogger(store, pipelineDomain, audit.WithLogger(logging.Discard()))
	mine.Log(context.Background(), transfer(10))

	assert.Equal(t, []string{"TRANSFER"}, entryTypes(t, store))
}

func TestPipeline_AutoApprove(t *testing.T) {
	srv := authorityServer(t, http.StatusOK, map[string]any{"approved": true, "message": "within limits"})
	exec, store := newPipeline(srv.URL)

	calls := 0
	res := exec.Execute(context.Background(), transfer(500), func(context.Context) (any, error) {
		calls++
		return map[string]any{"txId": "tx_1"}, nil
	})

	assert.Equal(t, 1, calls)
	assert.True(t, res.Success)
	assert.True(t, res.Approved)
	assert.False(t, res.ApprovalResult.RequiresManualReview)
	assert.True(t, res.LogResult.Logged)
	assert.ElementsMatch(t, []string{"TRANSFER", "TRANSFER_success"}, entryTypes(t, store))
}

func TestPipeline_ManualReviewFlagOnApproval(t *testing.T) {
	srv := authorityServer(t, http.StatusOK, map[string]any{"approved": true})
	exec, _ := newPipeline(srv.URL)

	res := exec.Execute(context.Background(), transfer(15000), func(context.Context) (any, error) { return "ok", nil })

	assert.True(t, res.Approved)
	assert.True(t, res.ApprovalResult.RequiresManualReview)
	assert.Equal(t, operation.RiskHigh, res.ApprovalResult.RiskLevel)
}

func TestPipeline_DenialShortCircuitsBody(t *testing.T) {
	srv := authorityServer(t, http.StatusOK, map[string]any{"approved": false, "message": "policy violation"})
	exec, store := newPipeline(srv.URL)

	calls := 0
	res := exec.Execute(context.Background(), transfer(500), func(context.Context) (any, error) {
		calls++
		return nil, nil
	})

	assert.Equal(t, 0, calls)
	assert.False(t, res.Success)
	assert.False(t, res.Approved)
	assert.Equal(t, "policy violation", res.Reason)
	assert.ElementsMatch(t, []string{"TRANSFER"}, entryTypes(t, store))
}

func TestPipeline_ExplicitRejectionStatus(t *testing.T) {
	srv := authorityServer(t, http.StatusForbidden, map[string]any{"message": "insufficient funds"})
	exec, _ := newPipeline(srv.URL)

	res := exec.Execute(context.Background(), transfer(500), func(context.Context) (any, error) { return nil, nil })

	assert.False(t, res.Approved)
	assert.Equal(t, "insufficient funds", res.Reason)
	assert.False(t, res.ApprovalResult.FailSafe)
	assert.Equal(t, http.StatusForbidden, res.ApprovalResult.StatusCode)
}

func TestPipeline_FailSafeOnUnreachableAuthority(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	exec, store := newPipeline(url)

	critical := exec.Execute(context.Background(), transfer("50001"), func(context.Context) (any, error) {
		t.Fatal("body must not run for a fail-safe denial")
		return nil, nil
	})
	assert.False(t, critical.Approved)
	assert.True(t, critical.ApprovalResult.FailSafe)
	assert.True(t, critical.ApprovalResult.NetworkError)
	assert.Contains(t, critical.Reason, approval.ReasonFailSafeDenied)

	routine := exec.Execute(context.Background(), transfer(1), func(context.Context) (any, error) { return "done", nil })
	assert.True(t, routine.Approved)
	assert.True(t, routine.Success)
	assert.True(t, routine.ApprovalResult.FailSafe)

	assert.ElementsMatch(t, []string{"TRANSFER", "TRANSFER", "TRANSFER_success"}, entryTypes(t, store))
}

func TestPipeline_DisabledAuditStillExecutes(t *testing.T) {
	srv := authorityServer(t, http.StatusOK, map[string]any{"approved": true})
	store := audit.NewMemoryStore()
	logger := audit.NewLogger(store, "acme.example", audit.WithDisabled(), audit.WithLogger(logging.Discard()))
	engine := approval.NewEngine(approval.NewHTTPAuthority(srv.URL), logging.Discard())
	exec := New(logger, engine, logging.Discard())

	res := exec.Execute(context.Background(), transfer(10), func(context.Context) (any, error) { return 1, nil })

	assert.True(t, res.Success)
	assert.False(t, res.LogResult.Logged)
	assert.Equal(t, audit.ReasonDisabled, res.LogResult.Reason)
	assert.Equal(t, 0, store.Len())
}
