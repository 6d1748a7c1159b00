package course_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/classtrack/classtrack-portal/internal/apperr"
	"github.com/classtrack/classtrack-portal/internal/course"
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

func TestNormalizeCodeTerm(t *testing.T) {
	cases := []struct{ code, term, want string }{
		{"CS201", "2026S1", "cs201|2026s1"},
		{"  CS 201 ", " 2026  S1 ", "cs 201|2026 s1"},
		{"cs201", "2026s1", "cs201|2026s1"},
	}
	for _, c := range cases {
		if got := course.NormalizeCodeTerm(c.code, c.term); got != c.want {
			t.Fatalf("NormalizeCodeTerm(%q,%q)=%q, want %q", c.code, c.term, got, c.want)
		}
	}
}

func TestCreateEnrollsCreatorAsInstructor(t *testing.T) {
	dbh := newTestDB(t)
	s := course.NewStore(dbh)
	ctx := context.Background()

	c, err := s.Create(ctx, "Algorithms", "CS201", "2026S1", "", "inst-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	role, err := course.ActiveRole(ctx, dbh, c.ID, "inst-1")
	if err != nil {
		t.Fatalf("active role: %v", err)
	}
	if role != course.RoleInstructor {
		t.Fatalf("creator role: got %q, want instructor", role)
	}
}

func TestCreateRejectsDuplicateCodeTerm(t *testing.T) {
	dbh := newTestDB(t)
	s := course.NewStore(dbh)
	ctx := context.Background()

	if _, err := s.Create(ctx, "Algorithms", "CS201", "2026S1", "", "inst-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	// same code+term modulo case and whitespace
	_, err := s.Create(ctx, "Algorithms again", " cs201 ", "2026s1", "", "inst-2")
	if apperr.Status(err) != 409 {
		t.Fatalf("expected 409, got %d (%v)", apperr.Status(err), err)
	}

	// same code in a different term is fine
	if _, err := s.Create(ctx, "Algorithms", "CS201", "2026S2", "", "inst-1"); err != nil {
		t.Fatalf("create next term: %v", err)
	}
}

func TestSetEnrollmentLastInstructorGuard(t *testing.T) {
	dbh := newTestDB(t)
	s := course.NewStore(dbh)
	ctx := context.Background()

	c, err := s.Create(ctx, "Algorithms", "CS201", "2026S1", "", "inst-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// demoting the only active instructor must fail, both via role change
	// and via status change
	err = s.SetEnrollment(ctx, c.ID, "inst-1", course.RoleStudent, course.StatusActive, "inst-1")
	if apperr.Status(err) != 409 {
		t.Fatalf("demote sole instructor: expected 409, got %d (%v)", apperr.Status(err), err)
	}
	err = s.SetEnrollment(ctx, c.ID, "inst-1", course.RoleInstructor, course.StatusRemoved, "inst-1")
	if apperr.Status(err) != 409 {
		t.Fatalf("remove sole instructor: expected 409, got %d (%v)", apperr.Status(err), err)
	}

	// after adding a second instructor the demotion goes through
	if err := s.SetEnrollment(ctx, c.ID, "inst-2", course.RoleInstructor, course.StatusActive, "inst-1"); err != nil {
		t.Fatalf("add second instructor: %v", err)
	}
	if err := s.SetEnrollment(ctx, c.ID, "inst-1", course.RoleStudent, course.StatusActive, "inst-2"); err != nil {
		t.Fatalf("demote after backup exists: %v", err)
	}

	role, err := course.ActiveRole(ctx, dbh, c.ID, "inst-1")
	if err != nil {
		t.Fatalf("active role: %v", err)
	}
	if role != course.RoleStudent {
		t.Fatalf("demoted role: got %q, want student", role)
	}
}

func TestSetEnrollmentValidation(t *testing.T) {
	dbh := newTestDB(t)
	s := course.NewStore(dbh)
	ctx := context.Background()

	c, err := s.Create(ctx, "Algorithms", "CS201", "2026S1", "", "inst-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetEnrollment(ctx, c.ID, "stu-1", "auditor", course.StatusActive, "inst-1"); apperr.Status(err) != 400 {
		t.Fatalf("bad role: expected 400, got %d", apperr.Status(err))
	}
	if err := s.SetEnrollment(ctx, c.ID, "stu-1", course.RoleStudent, "paused", "inst-1"); apperr.Status(err) != 400 {
		t.Fatalf("bad status: expected 400, got %d", apperr.Status(err))
	}
	if err := s.SetEnrollment(ctx, "c-missing", "stu-1", course.RoleStudent, course.StatusActive, "inst-1"); apperr.Status(err) != 404 {
		t.Fatalf("missing course: expected 404, got %d", apperr.Status(err))
	}
}

func TestActiveMemberIDs(t *testing.T) {
	dbh := newTestDB(t)
	s := course.NewStore(dbh)
	ctx := context.Background()

	c, err := s.Create(ctx, "Algorithms", "CS201", "2026S1", "", "inst-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, uid := range []string{"stu-1", "stu-2", "stu-3"} {
		if err := s.SetEnrollment(ctx, c.ID, uid, course.RoleStudent, course.StatusActive, "inst-1"); err != nil {
			t.Fatalf("enroll %s: %v", uid, err)
		}
	}
	if err := s.SetEnrollment(ctx, c.ID, "stu-3", course.RoleStudent, course.StatusRemoved, "inst-1"); err != nil {
		t.Fatalf("remove stu-3: %v", err)
	}

	ids, err := s.ActiveMemberIDs(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	// inst-1 plus two remaining active students
	if len(ids) != 3 {
		t.Fatalf("active members: got %v", ids)
	}
	for _, id := range ids {
		if id == "stu-3" {
			t.Fatalf("removed member still listed: %v", ids)
		}
	}

	// limit+1 rows come back when the cap is exceeded
	ids, err = s.ActiveMemberIDs(ctx, c.ID, 2)
	if err != nil {
		t.Fatalf("list members capped: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("overflow probe: got %d rows, want 3", len(ids))
	}
}
