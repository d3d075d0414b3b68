//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/testutil"
)

func TestPostgresStore_AppendAndList(t *testing.T) {
	db, cleanup := testutil.Postgres(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, amount := range []string{"10", "20000", "75000"} {
		approved := i%2 == 0
		e := &Entry{
			Domain:        "acme.example",
			Database:      "acme",
			OperationType: "TRANSFER",
			OperationData: map[string]any{"amount": amount, "to": "acct_2"},
			ActorID:       "user_1",
			RiskLevel:     operation.DefaultThresholds().Classify(operation.AmountOf(map[string]any{"amount": amount})),
			Amount:        operation.AmountOf(map[string]any{"amount": amount}),
			Approved:      &approved,
			Timestamp:     base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.Append(ctx, e))
		assert.NotEmpty(t, e.ID)
	}
	require.NoError(t, store.Append(ctx, &Entry{
		Domain:        "other.example",
		OperationType: "PAYMENT",
		OperationData: map[string]any{},
		RiskLevel:     operation.RiskLow,
		Timestamp:     base,
	}))

	entries, err := store.List(ctx, Filter{Domain: "acme.example", Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
	assert.Equal(t, operation.RiskCritical, entries[0].RiskLevel)
	assert.Equal(t, "acct_2", entries[0].OperationData["to"])
	require.NotNil(t, entries[0].Approved)

	n, err := store.Count(ctx, Filter{Domain: "acme.example", RiskLevel: operation.RiskLow})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logger := NewLogger(store, "acme.example")
	page, err := logger.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)

	next, err := logger.List(ctx, Filter{Limit: 2, Cursor: decodeCursor(t, page.NextCursor)})
	require.NoError(t, err)
	assert.Len(t, next.Entries, 1)
	assert.False(t, next.HasMore)
}

func TestPostgresStore_EntriesAreImmutable(t *testing.T) {
	db, cleanup := testutil.Postgres(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	e := &Entry{
		Domain:        "acme.example",
		OperationType: "WITHDRAWAL",
		OperationData: map[string]any{"amount": 5},
		RiskLevel:     operation.RiskLow,
		Timestamp:     time.Now().UTC(),
	}
	require.NoError(t, store.Append(ctx, e))

	_, err := db.ExecContext(ctx, `UPDATE audit_entries SET risk_level = 'HIGH' WHERE id = $1`, e.ID)
	assert.Error(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM audit_entries WHERE id = $1`, e.ID)
	assert.Error(t, err)
}
