package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"

	"github.com/MrEthical07/trustcore/internal/audit"
	"github.com/google/uuid"
)

// AuditSink appends audit events to the audit_log table.
type AuditSink struct {
	db      *sql.DB
	dialect Dialect
	logger  *log.Logger
}

// NewAuditSink creates a sink over db. A nil logger falls back to log.Default().
func NewAuditSink(db *sql.DB, d Dialect, logger *log.Logger) *AuditSink {
	if logger == nil {
		logger = log.Default()
	}
	return &AuditSink{db: db, dialect: d, logger: logger}
}

// Emit implements the audit sink contract: failures are logged and swallowed.
func (a *AuditSink) Emit(ctx context.Context, event audit.Event) {
	if err := a.Insert(ctx, event); err != nil {
		a.logger.Printf("trustcore: audit insert failed action=%s: %v", event.Action, err)
	}
}

// Insert writes one event and reports the error.
func (a *AuditSink) Insert(ctx context.Context, event audit.Event) error {
	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
		metadata = b
	}

	_, err := a.db.ExecContext(ctx, a.dialect.rebind(`INSERT INTO audit_log
		(id, ts, action, resource_type, resource_id, user_id, session_id, ip, success, reason, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), event.Timestamp.UnixMilli(), event.Action, event.ResourceType, event.ResourceID,
		event.UserID, event.SessionID, event.IP, event.Success, event.Reason, string(metadata),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Recent returns the newest events of a user, newest first.
func (a *AuditSink) Recent(ctx context.Context, userID string, limit int) ([]audit.Event, error) {
	rows, err := a.db.QueryContext(ctx, a.dialect.rebind(`SELECT ts, action, resource_type, resource_id, user_id, session_id, ip, success, reason, metadata
		FROM audit_log WHERE user_id = ? ORDER BY ts DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			ts       int64
			metadata string
		)
		if err := rows.Scan(&ts, &e.Action, &e.ResourceType, &e.ResourceID, &e.UserID, &e.SessionID, &e.IP, &e.Success, &e.Reason, &metadata); err != nil {
			return nil, unavailable(err)
		}
		e.Timestamp = fromMS(ts)
		if metadata != "" && metadata != "{}" {
			_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
