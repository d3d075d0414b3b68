package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresLog persists notifications in PostgreSQL (tables notifications
// and notifications_archive).
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a new PostgreSQL-backed notification log.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

const notificationColumns = `id, type, recipient, subject, payload, sent, provider, message_id, error, created_at`

func (p *PostgresLog) Append(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, string(n.Kind), n.Recipient, nullString(n.Subject), payload, n.Sent,
		n.Provider, nullString(n.MessageID), nullString(n.Error), n.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (p *PostgresLog) List(ctx context.Context, limit, offset int) ([]*Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*Notification{}
	for rows.Next() {
		var (
			n                         Notification
			kind                      string
			subject, msgID, errString sql.NullString
			payload                   []byte
		)
		if err := rows.Scan(&n.ID, &kind, &n.Recipient, &subject, &payload, &n.Sent,
			&n.Provider, &msgID, &errString, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = Kind(kind)
		n.Subject = subject.String
		n.MessageID = msgID.String
		n.Error = errString.String
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, fmt.Errorf("decode notification payload: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// ArchiveBefore moves old rows into notifications_archive in one statement.
func (p *PostgresLog) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		WITH moved AS (
			DELETE FROM notifications WHERE created_at < $1
			RETURNING `+notificationColumns+`
		)
		INSERT INTO notifications_archive (`+notificationColumns+`)
		SELECT `+notificationColumns+` FROM moved`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
