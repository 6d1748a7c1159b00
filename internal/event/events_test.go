package event_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/classtrack/classtrack-portal/internal/db"
	"github.com/classtrack/classtrack-portal/internal/event"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbh, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh
}

func TestEmitIsIdempotent(t *testing.T) {
	dbh := newTestDB(t)
	em := event.NewEmitter(dbh)
	ctx := context.Background()

	actor := event.Actor{UID: "stu-1", Role: "student"}
	agg := event.Aggregate{Kind: "attempt", ID: "stu-1__1", Version: 1}
	key := "t-1:stu-1__1:1"

	id1, err := em.Emit(ctx, event.TypeAttemptStarted, "c-1", actor, agg,
		map[string]any{"attemptNo": 1}, key, "req-a")
	if err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if id1 != event.ID(key) {
		t.Fatalf("id mismatch: got %s", id1)
	}

	// retry with the same key: same id, no error, no second row, and the
	// original payload survives
	id2, err := em.Emit(ctx, event.TypeAttemptStarted, "c-1", actor, agg,
		map[string]any{"attemptNo": 99}, key, "req-b")
	if err != nil {
		t.Fatalf("retry emit: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("retry id: got %s want %s", id2, id1)
	}

	evs, err := em.List(ctx, "c-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("event count: got %d want 1", len(evs))
	}
	if evs[0].RequestID != "req-a" {
		t.Fatalf("retry overwrote the first writer: %+v", evs[0])
	}
	if got, ok := evs[0].Payload["attemptNo"].(float64); !ok || got != 1 {
		t.Fatalf("payload: %+v", evs[0].Payload)
	}
}

func TestEmitDistinctKeysAppend(t *testing.T) {
	dbh := newTestDB(t)
	em := event.NewEmitter(dbh)
	ctx := context.Background()

	actor := event.Actor{UID: "stu-1", Role: "student"}
	id1, err := em.Emit(ctx, event.TypeAttemptStarted, "c-1", actor,
		event.Aggregate{Kind: "attempt", ID: "stu-1__1"}, nil, "t-1:stu-1__1:1", "")
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	id2, err := em.Emit(ctx, event.TypeAttemptSubmitted, "c-1", actor,
		event.Aggregate{Kind: "attempt", ID: "stu-1__1"}, nil, "t-1:stu-1__1:1:submitted", "")
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("distinct keys produced the same id")
	}

	evs, err := em.List(ctx, "c-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("event count: got %d want 2", len(evs))
	}
	// events from other courses stay out
	evs, err = em.List(ctx, "c-other", 10)
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("course isolation: got %d events", len(evs))
	}
}

func TestIDIsStable(t *testing.T) {
	a := event.ID("grade:c-1:t-1:stu-1:1")
	b := event.ID("grade:c-1:t-1:stu-1:1")
	if a != b {
		t.Fatalf("same key hashed to different ids")
	}
	if len(a) != 64 {
		t.Fatalf("id length: got %d", len(a))
	}
}
