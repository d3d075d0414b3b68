package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/sovereign/internal/idgen"
	"github.com/mbd888/sovereign/internal/operation"
	"github.com/mbd888/sovereign/internal/retry"
)

// PostgresStore persists audit entries in PostgreSQL (table audit_entries).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, domain, database_name, operation_type, operation_data,
		actor_id, actor_email, correlation_id, ip_address, user_agent,
		risk_level, amount, approved, created_at`

// Append inserts the entry. The id is generated before the first attempt
// and the insert is conflict-safe, so transient-error retries never duplicate.
func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = idgen.Ordered()
	}
	data, err := json.Marshal(e.OperationData)
	if err != nil {
		return fmt.Errorf("marshal operation data: %w", err)
	}

	return retry.Do(ctx, 3, 50*time.Millisecond, func() error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO audit_entries (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Domain, nullString(e.Database), e.OperationType, data,
			nullString(e.ActorID), nullString(e.ActorEmail), nullString(e.CorrelationID),
			nullString(e.IPAddress), nullString(e.UserAgent),
			string(e.RiskLevel), e.Amount, nullBool(e.Approved), e.Timestamp,
		)
		if err != nil && !transient(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Entry, error) {
	where, args := buildWhere(f)
	if f.Cursor != nil {
		args = append(args, f.Cursor.CreatedAt, f.Cursor.ID)
		where += fmt.Sprintf(" AND (created_at, id::text) < ($%d, $%d)", len(args)-1, len(args))
	}
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE ` + where +
		` ORDER BY created_at DESC, id::text DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries WHERE `+where, args...).Scan(&n)
	return n, err
}

// buildWhere renders the filter as a parameterized predicate. Domain is
// always constrained.
func buildWhere(f Filter) (string, []any) {
	clauses := []string{"domain = $1"}
	args := []any{f.Domain}
	add := func(expr string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if f.OperationType != "" {
		add("operation_type = $%d", f.OperationType)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.RiskLevel != "" {
		add("risk_level = $%d", string(f.RiskLevel))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	return strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e                                     Entry
		data                                  []byte
		database, actorID, actorEmail, corrID sql.NullString
		ip, ua                                sql.NullString
		risk                                  string
		approved                              sql.NullBool
	)
	if err := s.Scan(&e.ID, &e.Domain, &database, &e.OperationType, &data,
		&actorID, &actorEmail, &corrID, &ip, &ua,
		&risk, &e.Amount, &approved, &e.Timestamp); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.OperationData); err != nil {
			return nil, fmt.Errorf("decode operation data for %s: %w", e.ID, err)
		}
	}
	e.Database = database.String
	e.ActorID = actorID.String
	e.ActorEmail = actorEmail.String
	e.CorrelationID = corrID.String
	e.IPAddress = ip.String
	e.UserAgent = ua.String
	e.RiskLevel = operation.RiskLevel(risk)
	if approved.Valid {
		v := approved.Bool
		e.Approved = &v
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// transient reports whether a database error is worth retrying. Constraint
// and data errors (SQLSTATE classes 22 and 23) never are.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return false
		}
	}
	return true
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
