// Package audit appends immutable records of significant actions. Writes
// happen after the primary transaction commits; a failed audit write is
// logged and swallowed so it never fails the user-visible operation.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

type Entry struct {
	ActorUID   string
	ActorRole  string
	Action     string // e.g. "test.attempt.submit"
	TargetKind string
	TargetID   string
	IP         string
	UserAgent  string
	RequestID  string
	Metadata   map[string]any
}

type Logger struct{ db *sql.DB }

func NewLogger(db *sql.DB) *Logger { return &Logger{db: db} }

// Record appends e to the audit log. Best effort.
func (l *Logger) Record(ctx context.Context, e Entry) {
	meta := "{}"
	if e.Metadata != nil {
		if b, err := json.Marshal(e.Metadata); err == nil {
			meta = string(b)
		}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor_uid, actor_role, action, target_kind, target_id, ip, user_agent, request_id, metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ActorUID, e.ActorRole, e.Action, e.TargetKind, e.TargetID,
		e.IP, e.UserAgent, e.RequestID, meta, time.Now().Unix())
	if err != nil {
		log.Printf("audit: record %s failed: %v (request %s)", e.Action, err, e.RequestID)
	}
}
