// Package calendar writes per-user calendar entries. Publishing a test fans
// one logical event out into every active member's calendar; the fan-out is a
// post-commit side effect and must never fail the publish itself.
package calendar

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Fanout struct{ db *sql.DB }

func NewFanout(db *sql.DB) *Fanout { return &Fanout{db: db} }

// TestWindow writes the test's window into each user's calendar and returns
// the shared calendar event id. All rows land in one transaction so a retry
// never leaves half a fan-out behind.
func (f *Fanout) TestWindow(ctx context.Context, courseID, testID, title string, startMs, endMs int64, userIDs []string) (string, error) {
	eventID := "cal-" + uuid.NewString()
	now := time.Now().Unix()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	for _, uid := range userIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO calendar_events (event_id, user_id, course_id, test_id, title, starts_at_ms, ends_at_ms, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			eventID, uid, courseID, testID, title, startMs, endMs, now)
		if err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return eventID, nil
}

// ListForUser returns a user's upcoming calendar entries, soonest first.
func (f *Fanout) ListForUser(ctx context.Context, userID string, afterMs int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := f.db.QueryContext(ctx,
		`SELECT event_id, course_id, test_id, title, starts_at_ms, ends_at_ms
		 FROM calendar_events WHERE user_id=$1 AND ends_at_ms >= $2
		 ORDER BY starts_at_ms ASC LIMIT $3`,
		userID, afterMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{UserID: userID}
		if err := rows.Scan(&e.EventID, &e.CourseID, &e.TestID, &e.Title, &e.StartsAtMillis, &e.EndsAtMillis); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type Entry struct {
	EventID        string `json:"eventId"`
	UserID         string `json:"userId"`
	CourseID       string `json:"courseId"`
	TestID         string `json:"testId,omitempty"`
	Title          string `json:"title"`
	StartsAtMillis int64  `json:"startsAtMillis"`
	EndsAtMillis   int64  `json:"endsAtMillis"`
}
