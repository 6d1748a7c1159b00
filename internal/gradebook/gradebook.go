// Package gradebook maintains per-student running totals over Grade records.
// The gradebook row is derived state: the incremental path (ApplyGrade, run
// inside the submit transaction) keeps it cheap to update, and
// RecomputeStudent rebuilds it from the Grade records alone, flagging any
// drift the incremental path accumulated.
package gradebook

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/classtrack/classtrack-portal/internal/apperr"
)

// recomputeScanBound caps how many grade records one recompute reads.
const recomputeScanBound = 1000

// driftThreshold is the absolute totals delta above which a recompute is
// flagged for operator attention.
const driftThreshold = 0.001

// DBTX is satisfied by *sql.DB and *sql.Tx; ApplyGrade runs inside the
// caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Entry struct {
	CourseID      string  `json:"courseId"`
	StudentID     string  `json:"studentId"`
	TotalScore    float64 `json:"totalScore"`
	TotalPossible float64 `json:"totalPossible"`
	ComputedAt    int64   `json:"computedAt"`
	UpdatedBy     string  `json:"updatedBy,omitempty"`
}

type ApplyResult struct {
	GradeID       string
	Revision      int
	Delta         float64
	Created       bool
	TotalScore    float64
	TotalPossible float64
}

// GradeID builds the deterministic grade record id.
func GradeID(sourceType, sourceID, studentID string) string {
	return sourceType + "_" + sourceID + "_" + studentID
}

// ApplyGrade upserts the grade record for (sourceType, sourceID, studentID)
// and folds the score delta into the student's gradebook totals. Possible
// points are added only when the grade record is first created, so a
// resubmission does not double-count them.
func ApplyGrade(ctx context.Context, q DBTX, courseID, studentID, sourceType, sourceID string, sourceVersion int, score, pointsPossible float64, gradedBy string) (ApplyResult, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) || math.IsNaN(pointsPossible) || math.IsInf(pointsPossible, 0) {
		return ApplyResult{}, apperr.Invariant("non-finite grade values for %s/%s", sourceID, studentID)
	}

	gradeID := GradeID(sourceType, sourceID, studentID)
	now := time.Now().Unix()

	var priorScore float64
	var priorRev int
	created := false
	err := q.QueryRowContext(ctx,
		`SELECT score, grade_revision FROM grades WHERE course_id=$1 AND id=$2`,
		courseID, gradeID).Scan(&priorScore, &priorRev)
	if errors.Is(err, sql.ErrNoRows) {
		created = true
	} else if err != nil {
		return ApplyResult{}, err
	}

	rev := priorRev + 1
	delta := score - priorScore

	_, err = q.ExecContext(ctx,
		`INSERT INTO grades (course_id, id, student_id, source_type, source_id, source_version, score, points_possible, grade_revision, graded_at, graded_by)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (course_id, id)
		 DO UPDATE SET source_version=EXCLUDED.source_version, score=EXCLUDED.score,
		               points_possible=EXCLUDED.points_possible, grade_revision=EXCLUDED.grade_revision,
		               graded_at=EXCLUDED.graded_at, graded_by=EXCLUDED.graded_by`,
		courseID, gradeID, studentID, sourceType, sourceID, sourceVersion,
		score, pointsPossible, rev, now, gradedBy)
	if err != nil {
		return ApplyResult{}, err
	}

	var totalScore, totalPossible float64
	err = q.QueryRowContext(ctx,
		`SELECT total_score, total_possible FROM gradebook WHERE course_id=$1 AND student_id=$2`,
		courseID, studentID).Scan(&totalScore, &totalPossible)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ApplyResult{}, err
	}
	totalScore += delta
	if created {
		totalPossible += pointsPossible
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO gradebook (course_id, student_id, total_score, total_possible, computed_at, updated_by)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (course_id, student_id)
		 DO UPDATE SET total_score=EXCLUDED.total_score, total_possible=EXCLUDED.total_possible,
		               computed_at=EXCLUDED.computed_at, updated_by=EXCLUDED.updated_by`,
		courseID, studentID, totalScore, totalPossible, now, gradedBy)
	if err != nil {
		return ApplyResult{}, err
	}

	return ApplyResult{
		GradeID:       gradeID,
		Revision:      rev,
		Delta:         delta,
		Created:       created,
		TotalScore:    totalScore,
		TotalPossible: totalPossible,
	}, nil
}

type RecomputeResult struct {
	Before        Entry   `json:"before"`
	After         Entry   `json:"after"`
	DeltaScore    float64 `json:"deltaScore"`
	DeltaPossible float64 `json:"deltaPossible"`
	DriftFlagged  bool    `json:"driftFlagged"`
	GradeCount    int     `json:"gradeCount"`
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Get returns the student's gradebook entry, zero-valued when none exists.
func (s *Store) Get(ctx context.Context, courseID, studentID string) (Entry, error) {
	e := Entry{CourseID: courseID, StudentID: studentID}
	err := s.db.QueryRowContext(ctx,
		`SELECT total_score, total_possible, computed_at, updated_by
		 FROM gradebook WHERE course_id=$1 AND student_id=$2`,
		courseID, studentID).Scan(&e.TotalScore, &e.TotalPossible, &e.ComputedAt, &e.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return e, nil
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// RecomputeStudent rebuilds the gradebook entry from the grade records,
// ignoring whatever the incremental path left behind, and reports the drift.
// Running it twice with no intervening grade writes yields a zero delta.
func (s *Store) RecomputeStudent(ctx context.Context, courseID, studentID, actorUID string) (RecomputeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RecomputeResult{}, err
	}
	defer tx.Rollback()

	before := Entry{CourseID: courseID, StudentID: studentID}
	err = tx.QueryRowContext(ctx,
		`SELECT total_score, total_possible, computed_at, updated_by
		 FROM gradebook WHERE course_id=$1 AND student_id=$2`,
		courseID, studentID).Scan(&before.TotalScore, &before.TotalPossible, &before.ComputedAt, &before.UpdatedBy)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return RecomputeResult{}, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT score, points_possible FROM grades
		 WHERE course_id=$1 AND student_id=$2 LIMIT $3`,
		courseID, studentID, recomputeScanBound)
	if err != nil {
		return RecomputeResult{}, err
	}
	var sumScore, sumPossible float64
	count := 0
	for rows.Next() {
		var sc, pp float64
		if err := rows.Scan(&sc, &pp); err != nil {
			rows.Close()
			return RecomputeResult{}, err
		}
		sumScore += sc
		sumPossible += pp
		count++
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return RecomputeResult{}, err
	}
	rows.Close()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO gradebook (course_id, student_id, total_score, total_possible, computed_at, updated_by)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (course_id, student_id)
		 DO UPDATE SET total_score=EXCLUDED.total_score, total_possible=EXCLUDED.total_possible,
		               computed_at=EXCLUDED.computed_at, updated_by=EXCLUDED.updated_by`,
		courseID, studentID, sumScore, sumPossible, now, actorUID)
	if err != nil {
		return RecomputeResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RecomputeResult{}, err
	}

	after := Entry{CourseID: courseID, StudentID: studentID, TotalScore: sumScore, TotalPossible: sumPossible, ComputedAt: now, UpdatedBy: actorUID}
	res := RecomputeResult{
		Before:        before,
		After:         after,
		DeltaScore:    sumScore - before.TotalScore,
		DeltaPossible: sumPossible - before.TotalPossible,
		GradeCount:    count,
	}
	res.DriftFlagged = math.Abs(res.DeltaScore) > driftThreshold || math.Abs(res.DeltaPossible) > driftThreshold
	return res, nil
}
