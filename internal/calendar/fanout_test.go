package calendar_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/classtrack/classtrack-portal/internal/calendar"
	"github.com/classtrack/classtrack-portal/internal/db"
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

func TestTestWindowFanout(t *testing.T) {
	dbh := newTestDB(t)
	f := calendar.NewFanout(dbh)
	ctx := context.Background()

	users := []string{"inst-1", "stu-1", "stu-2"}
	eventID, err := f.TestWindow(ctx, "c-1", "t-1", "Midterm", 1_000, 2_000, users)
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if !strings.HasPrefix(eventID, "cal-") {
		t.Fatalf("event id: got %q", eventID)
	}

	for _, uid := range users {
		entries, err := f.ListForUser(ctx, uid, 0, 10)
		if err != nil {
			t.Fatalf("list for %s: %v", uid, err)
		}
		if len(entries) != 1 {
			t.Fatalf("entries for %s: got %d want 1", uid, len(entries))
		}
		e := entries[0]
		if e.EventID != eventID || e.TestID != "t-1" || e.Title != "Midterm" {
			t.Fatalf("entry for %s: %+v", uid, e)
		}
		if e.StartsAtMillis != 1_000 || e.EndsAtMillis != 2_000 {
			t.Fatalf("window for %s: %+v", uid, e)
		}
	}

	if entries, _ := f.ListForUser(ctx, "outsider", 0, 10); len(entries) != 0 {
		t.Fatalf("non-member received entries: %v", entries)
	}
}

func TestListForUserSkipsEndedEvents(t *testing.T) {
	dbh := newTestDB(t)
	f := calendar.NewFanout(dbh)
	ctx := context.Background()

	if _, err := f.TestWindow(ctx, "c-1", "t-old", "Old exam", 1_000, 2_000, []string{"stu-1"}); err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if _, err := f.TestWindow(ctx, "c-1", "t-new", "New exam", 5_000, 9_000, []string{"stu-1"}); err != nil {
		t.Fatalf("fan out: %v", err)
	}

	entries, err := f.ListForUser(ctx, "stu-1", 3_000, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].TestID != "t-new" {
		t.Fatalf("ended event not filtered: %+v", entries)
	}
}
