// Package event is the append-only domain event log. Event ids are derived
// from caller-supplied idempotency keys, so retrying the same logical action
// lands on the same row: the first writer wins and later writers no-op.
package event

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	TypeAttemptStarted      = "test.attempt.started"
	TypeAttemptSubmitted    = "test.attempt.submitted"
	TypeGradeMutated        = "grade.mutated"
	TypeGradebookRecomputed = "gradebook.student.recomputed"
	TypeTestPublished       = "test.published"
)

type Actor struct {
	UID  string `json:"uid"`
	Role string `json:"role,omitempty"`
}

type Aggregate struct {
	Kind    string `json:"kind,omitempty"`
	ID      string `json:"id,omitempty"`
	Version int    `json:"version,omitempty"`
}

type Event struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	CourseID       string         `json:"courseId"`
	Actor          Actor          `json:"actor"`
	Aggregate      Aggregate      `json:"aggregate"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
	RequestID      string         `json:"requestId,omitempty"`
	OccurredAt     int64          `json:"occurredAt"`
}

type Emitter struct{ db *sql.DB }

func NewEmitter(db *sql.DB) *Emitter { return &Emitter{db: db} }

// ID returns the event id a given idempotency key maps to.
func ID(idempotencyKey string) string {
	sum := sha256.Sum256([]byte(idempotencyKey))
	return hex.EncodeToString(sum[:])
}

// Emit appends an event keyed by idempotencyKey. If an event with the same
// key was already recorded, Emit returns its id without error and writes
// nothing. There is no update or delete path.
func (e *Emitter) Emit(ctx context.Context, typ, courseID string, actor Actor, agg Aggregate, payload map[string]any, idempotencyKey, requestID string) (string, error) {
	id := ID(idempotencyKey)
	body := "{}"
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		body = string(b)
	}
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO domain_events (id, typ, course_id, actor_uid, actor_role, agg_kind, agg_id, agg_version, payload, idempotency_key, request_id, occurred_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (id) DO NOTHING`,
		id, typ, courseID, actor.UID, actor.Role,
		agg.Kind, agg.ID, agg.Version, body, idempotencyKey, requestID, time.Now().UnixMilli())
	if err != nil {
		return "", err
	}
	return id, nil
}

// List returns the most recent events for a course, newest first.
func (e *Emitter) List(ctx context.Context, courseID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, typ, course_id, actor_uid, actor_role, agg_kind, agg_id, agg_version, payload, idempotency_key, request_id, occurred_at
		 FROM domain_events WHERE course_id=$1 ORDER BY occurred_at DESC LIMIT $2`,
		courseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.CourseID, &ev.Actor.UID, &ev.Actor.Role,
			&ev.Aggregate.Kind, &ev.Aggregate.ID, &ev.Aggregate.Version,
			&payload, &ev.IdempotencyKey, &ev.RequestID, &ev.OccurredAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payload), &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
