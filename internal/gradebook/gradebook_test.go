package gradebook_test

import (
	"context"
	"database/sql"
	"math"
	"testing"

	"github.com/classtrack/classtrack-portal/internal/apperr"
	"github.com/classtrack/classtrack-portal/internal/db"
	"github.com/classtrack/classtrack-portal/internal/gradebook"
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

// seedCourse inserts the course row the grade tables reference.
func seedCourse(t *testing.T, dbh *sql.DB, courseID string) {
	t.Helper()
	_, err := dbh.ExecContext(context.Background(),
		`INSERT INTO courses (id, name, code, term, code_term_norm, archived, visibility, created_by, created_at, updated_at)
		 VALUES ($1,'Algorithms','CS201','2026S1',$2,0,'enrolled_only','inst-1',0,0)`,
		courseID, courseID+"|2026s1")
	if err != nil {
		t.Fatalf("seed course: %v", err)
	}
}

func TestGradeID(t *testing.T) {
	if got := gradebook.GradeID("test", "t-1", "stu-1"); got != "test_t-1_stu-1" {
		t.Fatalf("grade id: got %q", got)
	}
}

func TestApplyGradeCreateThenResubmit(t *testing.T) {
	dbh := newTestDB(t)
	seedCourse(t, dbh, "c-1")
	ctx := context.Background()

	res, err := gradebook.ApplyGrade(ctx, dbh, "c-1", "stu-1", "test", "t-1", 1, 3, 10, "system")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Created || res.Revision != 1 || res.Delta != 3 {
		t.Fatalf("first apply: %+v", res)
	}
	if res.TotalScore != 3 || res.TotalPossible != 10 {
		t.Fatalf("totals after first apply: %+v", res)
	}

	// a second grade from the same source replaces, never accumulates
	res, err = gradebook.ApplyGrade(ctx, dbh, "c-1", "stu-1", "test", "t-1", 2, 8, 10, "system")
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if res.Created || res.Revision != 2 || res.Delta != 5 {
		t.Fatalf("reapply: %+v", res)
	}
	if res.TotalScore != 8 || res.TotalPossible != 10 {
		t.Fatalf("totals after reapply (possible double-counted?): %+v", res)
	}

	// a grade from a different source adds to both totals
	res, err = gradebook.ApplyGrade(ctx, dbh, "c-1", "stu-1", "test", "t-2", 1, 4, 5, "system")
	if err != nil {
		t.Fatalf("second source: %v", err)
	}
	if res.TotalScore != 12 || res.TotalPossible != 15 {
		t.Fatalf("totals after second source: %+v", res)
	}

	e, err := gradebook.NewStore(dbh).Get(ctx, "c-1", "stu-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.TotalScore != 12 || e.TotalPossible != 15 {
		t.Fatalf("stored entry: %+v", e)
	}
}

func TestApplyGradeRejectsNonFiniteValues(t *testing.T) {
	dbh := newTestDB(t)
	ctx := context.Background()

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := gradebook.ApplyGrade(ctx, dbh, "c-1", "stu-1", "test", "t-1", 1, bad, 10, "system"); apperr.Status(err) != 500 {
			t.Fatalf("score %v: expected 500, got %d", bad, apperr.Status(err))
		}
		if _, err := gradebook.ApplyGrade(ctx, dbh, "c-1", "stu-1", "test", "t-1", 1, 1, bad, "system"); apperr.Status(err) != 500 {
			t.Fatalf("possible %v: expected 500, got %d", bad, apperr.Status(err))
		}
	}
}

func TestGetMissingEntryIsZeroValued(t *testing.T) {
	dbh := newTestDB(t)
	e, err := gradebook.NewStore(dbh).Get(context.Background(), "c-1", "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.TotalScore != 0 || e.TotalPossible != 0 || e.ComputedAt != 0 {
		t.Fatalf("missing entry not zero-valued: %+v", e)
	}
	if e.CourseID != "c-1" || e.StudentID != "nobody" {
		t.Fatalf("missing entry keys: %+v", e)
	}
}

func TestRecomputeStudentIsIdempotent(t *testing.T) {
	dbh := newTestDB(t)
	seedCourse(t, dbh, "c-1")
	s := gradebook.NewStore(dbh)
	ctx := context.Background()

	if _, err := gradebook.ApplyGrade(ctx, dbh, "c-1", "stu-1", "test", "t-1", 1, 3, 10, "system"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := gradebook.ApplyGrade(ctx, dbh, "c-1", "stu-1", "test", "t-2", 1, 4, 5, "system"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	res, err := s.RecomputeStudent(ctx, "c-1", "stu-1", "admin-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if res.GradeCount != 2 {
		t.Fatalf("grade count: got %d want 2", res.GradeCount)
	}
	if res.After.TotalScore != 7 || res.After.TotalPossible != 15 {
		t.Fatalf("recomputed totals: %+v", res.After)
	}
	if res.DriftFlagged {
		t.Fatalf("healthy totals flagged as drift: %+v", res)
	}

	// second run with no grade writes in between: zero delta
	res, err = s.RecomputeStudent(ctx, "c-1", "stu-1", "admin-1")
	if err != nil {
		t.Fatalf("recompute again: %v", err)
	}
	if res.DeltaScore != 0 || res.DeltaPossible != 0 || res.DriftFlagged {
		t.Fatalf("second recompute not idempotent: %+v", res)
	}
}

func TestRecomputeFlagsDrift(t *testing.T) {
	dbh := newTestDB(t)
	seedCourse(t, dbh, "c-1")
	s := gradebook.NewStore(dbh)
	ctx := context.Background()

	if _, err := gradebook.ApplyGrade(ctx, dbh, "c-1", "stu-1", "test", "t-1", 1, 3, 10, "system"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// corrupt the derived row behind the incremental path's back
	if _, err := dbh.ExecContext(ctx,
		`UPDATE gradebook SET total_score=99 WHERE course_id=$1 AND student_id=$2`, "c-1", "stu-1"); err != nil {
		t.Fatalf("corrupt gradebook: %v", err)
	}

	res, err := s.RecomputeStudent(ctx, "c-1", "stu-1", "admin-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !res.DriftFlagged {
		t.Fatalf("drift not flagged: %+v", res)
	}
	if res.After.TotalScore != 3 {
		t.Fatalf("drift not repaired: %+v", res.After)
	}
	if res.DeltaScore != -96 {
		t.Fatalf("delta: got %v want -96", res.DeltaScore)
	}
}

func TestRecomputeStudentWithNoGradesZeroesEntry(t *testing.T) {
	dbh := newTestDB(t)
	seedCourse(t, dbh, "c-1")
	s := gradebook.NewStore(dbh)
	ctx := context.Background()

	res, err := s.RecomputeStudent(ctx, "c-1", "stu-1", "admin-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if res.GradeCount != 0 || res.After.TotalScore != 0 || res.After.TotalPossible != 0 {
		t.Fatalf("empty recompute: %+v", res)
	}
	if res.DriftFlagged {
		t.Fatalf("empty recompute flagged drift")
	}
}
