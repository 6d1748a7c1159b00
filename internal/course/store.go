package course

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classtrack/classtrack-portal/internal/apperr"
)

// instructorScanBound caps the "other active instructors" probe in
// SetEnrollment. Courses with more active instructors than this are outside
// the guard's reach; see DESIGN.md.
const instructorScanBound = 10

// RowQuerier is the subset of *sql.DB / *sql.Tx the membership helpers need,
// so callers can run them inside their own transactions.
type RowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// NormalizeCodeTerm builds the uniqueness key for a course's code+term pair.
func NormalizeCodeTerm(code, term string) string {
	norm := func(s string) string {
		return strings.ToLower(strings.Join(strings.Fields(s), " "))
	}
	return norm(code) + "|" + norm(term)
}

// Create inserts the course and enrolls the creator as its first active
// instructor in the same transaction, so the at-least-one-instructor
// invariant holds from the start.
func (s *Store) Create(ctx context.Context, name, code, term, visibility, creatorUID string) (Course, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Course{}, apperr.Validation("name required")
	}
	if strings.TrimSpace(code) == "" || strings.TrimSpace(term) == "" {
		return Course{}, apperr.Validation("code and term required")
	}
	if visibility == "" {
		visibility = VisibilityEnrolledOnly
	}
	if visibility != VisibilityEnrolledOnly && visibility != VisibilityPublicCatalog {
		return Course{}, apperr.Validation("invalid visibility %q", visibility)
	}

	now := time.Now().Unix()
	c := Course{
		ID:         "c-" + uuid.NewString(),
		Name:       name,
		Code:       strings.TrimSpace(code),
		Term:       strings.TrimSpace(term),
		Visibility: visibility,
		CreatedBy:  creatorUID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Course{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO courses (id, name, code, term, code_term_norm, archived, visibility, created_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$9)`,
		c.ID, c.Name, c.Code, c.Term, NormalizeCodeTerm(c.Code, c.Term), c.Visibility, c.CreatedBy, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Course{}, apperr.Conflict("duplicate_course", "a course with this code and term already exists")
		}
		return Course{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO enrollments (course_id, user_id, role, status, added_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, creatorUID, RoleInstructor, StatusActive, creatorUID, now, now)
	if err != nil {
		return Course{}, err
	}
	if err := tx.Commit(); err != nil {
		return Course{}, err
	}
	return c, nil
}

// SetEnrollment creates or updates one enrollment row. If the change would
// strip the target of active-instructor standing, it first probes for other
// active instructors (bounded scan) and rejects the change when none exist.
func (s *Store) SetEnrollment(ctx context.Context, courseID, userID, role, status, actorUID string) error {
	if role != RoleStudent && role != RoleInstructor {
		return apperr.Validation("invalid role %q", role)
	}
	if status != StatusActive && status != StatusRemoved {
		return apperr.Validation("invalid status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM courses WHERE id=$1`, courseID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("course")
		}
		return err
	}

	var curRole, curStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT role, status FROM enrollments WHERE course_id=$1 AND user_id=$2`,
		courseID, userID).Scan(&curRole, &curStatus)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	wasActiveInstructor := curRole == RoleInstructor && curStatus == StatusActive
	staysActiveInstructor := role == RoleInstructor && status == StatusActive
	if wasActiveInstructor && !staysActiveInstructor {
		var other string
		err := tx.QueryRowContext(ctx,
			`SELECT user_id FROM enrollments
			 WHERE course_id=$1 AND role=$2 AND status=$3 AND user_id<>$4
			 LIMIT `+strconv.Itoa(instructorScanBound),
			courseID, RoleInstructor, StatusActive, userID).Scan(&other)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Conflict("last_instructor", "course must retain at least one active instructor")
		}
		if err != nil {
			return err
		}
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO enrollments (course_id, user_id, role, status, added_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (course_id, user_id)
		 DO UPDATE SET role=EXCLUDED.role, status=EXCLUDED.status, added_by=EXCLUDED.added_by, updated_at=EXCLUDED.updated_at`,
		courseID, userID, role, status, actorUID, now, now)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ActiveRole reports the enrollment role of userID in courseID, or "" when
// the user is not an active member. Runs against q so callers can stay inside
// their own transaction.
func ActiveRole(ctx context.Context, q RowQuerier, courseID, userID string) (string, error) {
	var role string
	err := q.QueryRowContext(ctx,
		`SELECT role FROM enrollments WHERE course_id=$1 AND user_id=$2 AND status=$3`,
		courseID, userID, StatusActive).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// ActiveMemberIDs lists active member user ids, capped at limit+1 so callers
// can detect overflow.
func (s *Store) ActiveMemberIDs(ctx context.Context, courseID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM enrollments WHERE course_id=$1 AND status=$2 ORDER BY user_id LIMIT $3`,
		courseID, StatusActive, limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique constraint") // postgres
}
