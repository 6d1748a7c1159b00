package assess

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classtrack/classtrack-portal/internal/apperr"
	"github.com/classtrack/classtrack-portal/internal/course"
	"github.com/classtrack/classtrack-portal/internal/gradebook"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// StartResult carries everything the caller needs after StartAttempt
// commits: the response body fields plus the ids the post-commit side
// effects (audit, domain event) are keyed by.
type StartResult struct {
	AttemptID       string
	AttemptNo       int
	ExpiresAtMillis int64
	TestVersion     int
	Test            TestInfo
	Questions       []ServedQuestion
}

// SubmitResult mirrors StartResult for SubmitAttempt.
type SubmitResult struct {
	Score          float64
	PointsPossible float64
	IsAssessed     bool
	TestVersion    int
	StudentID      string
	Grade          *gradebook.ApplyResult // nil when the test is not assessed
}

type ListOpts struct {
	UserID string
	Status string
	Limit  int
	Offset int
}

// ---- test authoring ----

func (s *Store) CreateTest(ctx context.Context, t Test) (Test, error) {
	if err := validateTest(&t); err != nil {
		return Test{}, err
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM courses WHERE id=$1`, t.CourseID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Test{}, apperr.NotFound("course")
		}
		return Test{}, err
	}

	now := time.Now().Unix()
	t.ID = "t-" + uuid.NewString()
	t.Status = StatusDraft
	t.ActiveVersion = 0
	t.PointsPossible = sumPoints(t.Questions)
	t.CreatedAt, t.UpdatedAt = now, now

	qj, err := json.Marshal(t.Questions)
	if err != nil {
		return Test{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tests (id, course_id, title, mode, status, attempts_allowed, duration_minutes, active_version,
		                    shuffle, is_assessed, window_start_ms, window_end_ms, points_possible, questions_json,
		                    created_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, t.CourseID, t.Title, t.Mode, t.Status, t.AttemptsAllowed, t.DurationMinutes, t.ActiveVersion,
		boolToInt(t.Shuffle), boolToInt(t.IsAssessed), t.WindowStartMillis, t.WindowEndMillis,
		t.PointsPossible, string(qj), t.CreatedBy, now, now)
	if err != nil {
		return Test{}, err
	}
	return t, nil
}

// UpdateTest replaces the draft question bank and settings. Frozen versions
// referenced by existing attempts are untouched; changes take effect on the
// next publish.
func (s *Store) UpdateTest(ctx context.Context, courseID, testID string, upd Test) (Test, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Test{}, err
	}
	defer tx.Rollback()

	t, err := getTest(ctx, tx, courseID, testID)
	if err != nil {
		return Test{}, err
	}
	t.Title = upd.Title
	t.Mode = upd.Mode
	t.AttemptsAllowed = upd.AttemptsAllowed
	t.DurationMinutes = upd.DurationMinutes
	t.Shuffle = upd.Shuffle
	t.IsAssessed = upd.IsAssessed
	t.WindowStartMillis = upd.WindowStartMillis
	t.WindowEndMillis = upd.WindowEndMillis
	t.Questions = upd.Questions
	t.PointsPossible = sumPoints(t.Questions)
	t.UpdatedAt = time.Now().Unix()
	if err := validateTest(&t); err != nil {
		return Test{}, err
	}

	qj, err := json.Marshal(t.Questions)
	if err != nil {
		return Test{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tests SET title=$1, mode=$2, attempts_allowed=$3, duration_minutes=$4, shuffle=$5, is_assessed=$6,
		        window_start_ms=$7, window_end_ms=$8, points_possible=$9, questions_json=$10, updated_at=$11
		 WHERE id=$12 AND course_id=$13`,
		t.Title, t.Mode, t.AttemptsAllowed, t.DurationMinutes, boolToInt(t.Shuffle), boolToInt(t.IsAssessed),
		t.WindowStartMillis, t.WindowEndMillis, t.PointsPossible, string(qj), t.UpdatedAt, testID, courseID)
	if err != nil {
		return Test{}, err
	}
	if err := tx.Commit(); err != nil {
		return Test{}, err
	}
	return t, nil
}

func (s *Store) GetTest(ctx context.Context, courseID, testID string) (Test, error) {
	return getTest(ctx, s.db, courseID, testID)
}

// Publish freezes the draft question bank into a new immutable version,
// bumps activeVersion and flips the test to published. Attempts started
// against earlier versions keep grading against those versions.
func (s *Store) Publish(ctx context.Context, courseID, testID, actorUID string) (Test, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Test{}, err
	}
	defer tx.Rollback()

	t, err := getTest(ctx, tx, courseID, testID)
	if err != nil {
		return Test{}, err
	}
	if len(t.Questions) == 0 {
		return Test{}, apperr.Validation("cannot publish a test with no questions")
	}
	if err := validateTest(&t); err != nil {
		return Test{}, err
	}

	now := time.Now().Unix()
	version := t.ActiveVersion + 1
	points := sumPoints(t.Questions)

	qj, err := json.Marshal(t.Questions)
	if err != nil {
		return Test{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO test_versions (test_id, version, questions_json, points_possible, frozen_at, frozen_by)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, version, string(qj), points, now, actorUID)
	if err != nil {
		return Test{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tests SET status=$1, active_version=$2, points_possible=$3, updated_at=$4 WHERE id=$5`,
		StatusPublished, version, points, now, t.ID)
	if err != nil {
		return Test{}, err
	}
	if err := tx.Commit(); err != nil {
		return Test{}, err
	}

	t.Status = StatusPublished
	t.ActiveVersion = version
	t.PointsPossible = points
	t.UpdatedAt = now
	return t, nil
}

// ---- attempt engine ----

// errAttemptSlotTaken reports that a concurrent start committed the attempt
// number this transaction counted to.
var errAttemptSlotTaken = errors.New("attempt slot taken")

// StartAttempt creates the next attempt for callerUID on a published test.
// Membership, window, and the attempt cap are all checked inside the one
// transaction that inserts the attempt row; the unique (test, user, no)
// index serializes concurrent starts that race past the count. A start that
// loses the insert race is re-run once so it recounts against the committed
// row and takes the next free slot, or hits the cap.
func (s *Store) StartAttempt(ctx context.Context, courseID, testID, callerUID, callerRole string) (StartResult, error) {
	res, err := s.startAttemptTx(ctx, courseID, testID, callerUID, callerRole)
	if errors.Is(err, errAttemptSlotTaken) {
		res, err = s.startAttemptTx(ctx, courseID, testID, callerUID, callerRole)
		if errors.Is(err, errAttemptSlotTaken) {
			return StartResult{}, apperr.Conflict("no_attempts_remaining", "No remaining attempts.")
		}
	}
	return res, err
}

func (s *Store) startAttemptTx(ctx context.Context, courseID, testID, callerUID, callerRole string) (StartResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StartResult{}, err
	}
	defer tx.Rollback()

	if callerRole != "admin" {
		role, err := course.ActiveRole(ctx, tx, courseID, callerUID)
		if err != nil {
			return StartResult{}, err
		}
		if role == "" {
			return StartResult{}, apperr.Forbidden("not an active member of this course")
		}
	}

	t, err := getTest(ctx, tx, courseID, testID)
	if err != nil {
		return StartResult{}, err
	}
	if t.Status != StatusPublished {
		return StartResult{}, apperr.Conflict("test_not_published", "Test is not published.")
	}

	nowMs := time.Now().UnixMilli()
	if t.Mode == ModeScheduled {
		if t.DurationMinutes < 1 || t.DurationMinutes > 1440 {
			return StartResult{}, apperr.Invariant("test %s has invalid duration %d", t.ID, t.DurationMinutes)
		}
		if nowMs < t.WindowStartMillis {
			return StartResult{}, apperr.Conflict("window_not_open", "Test window is not open.")
		}
		if nowMs > t.WindowEndMillis {
			return StartResult{}, apperr.Conflict("window_closed", "Test window has closed.")
		}
	}

	var used int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE test_id=$1 AND user_id=$2`,
		testID, callerUID).Scan(&used); err != nil {
		return StartResult{}, err
	}
	if used >= t.AttemptsAllowed {
		return StartResult{}, apperr.Conflict("no_attempts_remaining", "No remaining attempts.")
	}
	attemptNo := used + 1
	attemptID := callerUID + "__" + strconv.Itoa(attemptNo)

	v, err := getVersion(ctx, tx, testID, t.ActiveVersion)
	if err != nil {
		return StartResult{}, err
	}

	seed := uuid.NewString()
	servedQs, form := BuildForm(v, t.Shuffle, seed, attemptID)

	var expiresAt int64
	if t.Mode == ModeScheduled {
		expiresAt = nowMs + int64(t.DurationMinutes)*60_000
	} else {
		expiresAt = nowMs + practiceAttemptTTLMillis
	}

	fj, err := json.Marshal(form)
	if err != nil {
		return StartResult{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attempts (test_id, id, user_id, attempt_no, status, started_at, expires_at_ms, test_version, form_seed, form_json)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		testID, attemptID, callerUID, attemptNo, AttemptStarted, nowMs, expiresAt, v.Version, seed, string(fj))
	if err != nil {
		if isUniqueViolation(err) {
			return StartResult{}, errAttemptSlotTaken
		}
		return StartResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return StartResult{}, err
	}

	return StartResult{
		AttemptID:       attemptID,
		AttemptNo:       attemptNo,
		ExpiresAtMillis: expiresAt,
		TestVersion:     v.Version,
		Test: TestInfo{
			ID:              t.ID,
			Title:           t.Title,
			Mode:            t.Mode,
			DurationMinutes: t.DurationMinutes,
			Version:         v.Version,
			PointsPossible:  v.PointsPossible,
		},
		Questions: servedQs,
	}, nil
}

// SubmitAttempt grades answers against the attempt's frozen form snapshot
// and test version. An answer counts only when its option id is inside the
// snapshot's per-question whitelist; snapshot questions missing from the
// version are skipped. The attempt, grade and gradebook rows all move in one
// transaction.
func (s *Store) SubmitAttempt(ctx context.Context, courseID, testID, attemptID, callerUID string, answers map[string]string) (SubmitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback()

	t, err := getTest(ctx, tx, courseID, testID)
	if err != nil {
		return SubmitResult{}, err
	}

	var a Attempt
	var formJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id, attempt_no, status, started_at, expires_at_ms, test_version, form_seed, form_json
		 FROM attempts WHERE test_id=$1 AND id=$2`,
		testID, attemptID).
		Scan(&a.ID, &a.UserID, &a.AttemptNo, &a.Status, &a.StartedAt, &a.ExpiresAtMillis, &a.TestVersion, &a.FormSeed, &formJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return SubmitResult{}, apperr.NotFound("attempt")
	}
	if err != nil {
		return SubmitResult{}, err
	}
	a.TestID = testID

	if a.UserID != callerUID {
		return SubmitResult{}, apperr.Forbidden("attempt belongs to another user")
	}
	if a.Status != AttemptStarted {
		return SubmitResult{}, apperr.Conflict("already_graded", "Attempt was already submitted.")
	}
	nowMs := time.Now().UnixMilli()
	if nowMs > a.ExpiresAtMillis {
		return SubmitResult{}, apperr.Conflict("attempt_expired", "Attempt has expired.")
	}

	if err := json.Unmarshal([]byte(formJSON), &a.Form); err != nil {
		return SubmitResult{}, apperr.Invariant("attempt %s has malformed form snapshot", attemptID)
	}

	// Grade against the version the attempt was started on, never the
	// test's current active version.
	v, err := getVersion(ctx, tx, testID, a.TestVersion)
	if err != nil {
		return SubmitResult{}, err
	}
	byID := make(map[string]Question, len(v.Questions))
	for _, q := range v.Questions {
		byID[q.ID] = q
	}

	accepted := make(map[string]string)
	breakdown := make([]BreakdownItem, 0, len(a.Form))
	score := 0.0
	for _, fq := range a.Form {
		q, known := byID[fq.QuestionID]
		if !known {
			continue // version drift; skip rather than fail the whole submit
		}
		if math.IsNaN(q.Points) || math.IsInf(q.Points, 0) {
			return SubmitResult{}, apperr.Invariant("question %s has non-finite points", q.ID)
		}
		item := BreakdownItem{QuestionID: fq.QuestionID}
		sel, answered := answers[fq.QuestionID]
		if answered && optionAllowed(fq.OptionIDs, sel) {
			accepted[fq.QuestionID] = sel
			item.Selected = sel
			if sel == q.CorrectOptionID {
				item.Correct = true
				item.Points = q.Points
				score += q.Points
			}
		}
		breakdown = append(breakdown, item)
	}

	aj, err := json.Marshal(accepted)
	if err != nil {
		return SubmitResult{}, err
	}
	bj, err := json.Marshal(breakdown)
	if err != nil {
		return SubmitResult{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE attempts SET status=$1, answers_json=$2, score=$3, breakdown_json=$4, graded_at=$5, graded_by=$6
		 WHERE test_id=$7 AND id=$8`,
		AttemptGraded, string(aj), score, string(bj), nowMs, callerUID, testID, attemptID)
	if err != nil {
		return SubmitResult{}, err
	}

	res := SubmitResult{
		Score:          score,
		PointsPossible: v.PointsPossible,
		IsAssessed:     t.IsAssessed || t.Mode == ModeScheduled,
		TestVersion:    a.TestVersion,
		StudentID:      a.UserID,
	}
	if res.IsAssessed {
		gr, err := gradebook.ApplyGrade(ctx, tx, courseID, a.UserID, "test", testID, a.TestVersion, score, v.PointsPossible, callerUID)
		if err != nil {
			return SubmitResult{}, err
		}
		res.Grade = &gr
	}

	if err := tx.Commit(); err != nil {
		return SubmitResult{}, err
	}
	return res, nil
}

func (s *Store) GetAttempt(ctx context.Context, testID, attemptID string) (Attempt, error) {
	var a Attempt
	var formJSON, answersJSON, breakdownJSON string
	var gradedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, attempt_no, status, started_at, expires_at_ms, test_version, form_json, answers_json, breakdown_json, graded_at, graded_by
		 FROM attempts WHERE test_id=$1 AND id=$2`,
		testID, attemptID).
		Scan(&a.ID, &a.UserID, &a.AttemptNo, &a.Status, &a.StartedAt, &a.ExpiresAtMillis, &a.TestVersion,
			&formJSON, &answersJSON, &breakdownJSON, &gradedAt, &a.GradedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, apperr.NotFound("attempt")
	}
	if err != nil {
		return Attempt{}, err
	}
	a.TestID = testID
	a.GradedAt = gradedAt.Int64
	_ = json.Unmarshal([]byte(formJSON), &a.Form)
	_ = json.Unmarshal([]byte(answersJSON), &a.Answers)
	_ = json.Unmarshal([]byte(breakdownJSON), &a.Breakdown)
	return a, nil
}

func (s *Store) ListAttempts(ctx context.Context, testID string, opts ListOpts) ([]Attempt, error) {
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}
	where := []string{"test_id=$1"}
	args := []any{testID}
	if opts.UserID != "" {
		args = append(args, opts.UserID)
		where = append(where, "user_id=$"+strconv.Itoa(len(args)))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where = append(where, "status=$"+strconv.Itoa(len(args)))
	}
	args = append(args, opts.Limit, opts.Offset)
	q := `SELECT id, user_id, attempt_no, status, started_at, expires_at_ms, test_version, score
	      FROM attempts WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY started_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.AttemptNo, &a.Status, &a.StartedAt, &a.ExpiresAtMillis, &a.TestVersion, &a.Score); err != nil {
			return nil, err
		}
		a.TestID = testID
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- helpers ----

func getTest(ctx context.Context, q course.RowQuerier, courseID, testID string) (Test, error) {
	var t Test
	var shuffle, assessed int
	var qjson string
	err := q.QueryRowContext(ctx,
		`SELECT id, course_id, title, mode, status, attempts_allowed, duration_minutes, active_version,
		        shuffle, is_assessed, window_start_ms, window_end_ms, points_possible, questions_json,
		        created_by, created_at, updated_at
		 FROM tests WHERE id=$1 AND course_id=$2`,
		testID, courseID).
		Scan(&t.ID, &t.CourseID, &t.Title, &t.Mode, &t.Status, &t.AttemptsAllowed, &t.DurationMinutes, &t.ActiveVersion,
			&shuffle, &assessed, &t.WindowStartMillis, &t.WindowEndMillis, &t.PointsPossible, &qjson,
			&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, apperr.NotFound("test")
	}
	if err != nil {
		return Test{}, err
	}
	t.Shuffle = shuffle != 0
	t.IsAssessed = assessed != 0
	if err := json.Unmarshal([]byte(qjson), &t.Questions); err != nil {
		return Test{}, apperr.Invariant("test %s has malformed question bank", t.ID)
	}
	return t, nil
}

func getVersion(ctx context.Context, q course.RowQuerier, testID string, version int) (Version, error) {
	var v Version
	var qjson string
	err := q.QueryRowContext(ctx,
		`SELECT test_id, version, questions_json, points_possible, frozen_at, frozen_by
		 FROM test_versions WHERE test_id=$1 AND version=$2`,
		testID, version).
		Scan(&v.TestID, &v.Version, &qjson, &v.PointsPossible, &v.FrozenAt, &v.FrozenBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, apperr.Invariant("test %s is missing version %d", testID, version)
	}
	if err != nil {
		return Version{}, err
	}
	if err := json.Unmarshal([]byte(qjson), &v.Questions); err != nil {
		return Version{}, apperr.Invariant("test %s version %d has malformed questions", testID, version)
	}
	return v, nil
}

func validateTest(t *Test) error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return apperr.Validation("title required")
	}
	if t.Mode != ModePractice && t.Mode != ModeScheduled {
		return apperr.Validation("mode must be practice or scheduled")
	}
	if t.AttemptsAllowed < 1 || t.AttemptsAllowed > 10 {
		return apperr.Validation("attemptsAllowed must be between 1 and 10")
	}
	if t.Mode == ModeScheduled {
		if t.DurationMinutes < 1 || t.DurationMinutes > 1440 {
			return apperr.Validation("durationMinutes must be between 1 and 1440")
		}
		if t.WindowStartMillis <= 0 || t.WindowEndMillis <= 0 || t.WindowStartMillis >= t.WindowEndMillis {
			return apperr.Validation("scheduled tests need windowStartMillis < windowEndMillis")
		}
	}
	seen := make(map[string]bool, len(t.Questions))
	for i, q := range t.Questions {
		if strings.TrimSpace(q.ID) == "" {
			return apperr.Validation("question %d missing id", i)
		}
		if seen[q.ID] {
			return apperr.Validation("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		if len(q.Options) < 2 {
			return apperr.Validation("question %q needs at least two options", q.ID)
		}
		if math.IsNaN(q.Points) || math.IsInf(q.Points, 0) || q.Points < 0 {
			return apperr.Validation("question %q has invalid points", q.ID)
		}
		if !optionInList(q.Options, q.CorrectOptionID) {
			return apperr.Validation("question %q correctOptionId is not one of its options", q.ID)
		}
	}
	return nil
}

func sumPoints(qs []Question) float64 {
	total := 0.0
	for _, q := range qs {
		total += q.Points
	}
	return total
}

func optionAllowed(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func optionInList(opts []Option, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
