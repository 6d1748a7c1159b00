package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:classtrack.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/classtrack?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS courses (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  code TEXT NOT NULL,
  term TEXT NOT NULL,
  code_term_norm TEXT NOT NULL UNIQUE,
  archived INTEGER NOT NULL DEFAULT 0,
  visibility TEXT NOT NULL DEFAULT 'enrolled_only',
  created_by TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS enrollments (
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  status TEXT NOT NULL,
  added_by TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (course_id, user_id)
);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  mode TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  attempts_allowed INTEGER NOT NULL DEFAULT 1,
  duration_minutes INTEGER NOT NULL DEFAULT 0,
  active_version INTEGER NOT NULL DEFAULT 0,
  shuffle INTEGER NOT NULL DEFAULT 0,
  is_assessed INTEGER NOT NULL DEFAULT 0,
  window_start_ms INTEGER NOT NULL DEFAULT 0,
  window_end_ms INTEGER NOT NULL DEFAULT 0,
  points_possible REAL NOT NULL DEFAULT 0,
  questions_json TEXT NOT NULL DEFAULT '[]',
  created_by TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS test_versions (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  version INTEGER NOT NULL,
  questions_json TEXT NOT NULL,
  points_possible REAL NOT NULL DEFAULT 0,
  frozen_at INTEGER NOT NULL,
  frozen_by TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (test_id, version)
);

CREATE TABLE IF NOT EXISTS attempts (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  attempt_no INTEGER NOT NULL,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  expires_at_ms INTEGER NOT NULL,
  test_version INTEGER NOT NULL,
  form_seed TEXT NOT NULL,
  form_json TEXT NOT NULL,
  answers_json TEXT NOT NULL DEFAULT '{}',
  score REAL NOT NULL DEFAULT 0,
  breakdown_json TEXT NOT NULL DEFAULT '[]',
  graded_at INTEGER,
  graded_by TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (test_id, id),
  UNIQUE (test_id, user_id, attempt_no)
);

CREATE TABLE IF NOT EXISTS grades (
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  source_type TEXT NOT NULL,
  source_id TEXT NOT NULL,
  source_version INTEGER NOT NULL DEFAULT 0,
  score REAL NOT NULL DEFAULT 0,
  points_possible REAL NOT NULL DEFAULT 0,
  grade_revision INTEGER NOT NULL DEFAULT 1,
  graded_at INTEGER NOT NULL,
  graded_by TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (course_id, id)
);

CREATE TABLE IF NOT EXISTS gradebook (
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  student_id TEXT NOT NULL,
  total_score REAL NOT NULL DEFAULT 0,
  total_possible REAL NOT NULL DEFAULT 0,
  computed_at INTEGER NOT NULL,
  updated_by TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (course_id, student_id)
);

CREATE TABLE IF NOT EXISTS domain_events (
  id TEXT PRIMARY KEY,                      -- hex SHA-256 of idempotency key
  typ TEXT NOT NULL,
  course_id TEXT NOT NULL,
  actor_uid TEXT NOT NULL,
  actor_role TEXT NOT NULL DEFAULT '',
  agg_kind TEXT NOT NULL DEFAULT '',
  agg_id TEXT NOT NULL DEFAULT '',
  agg_version INTEGER NOT NULL DEFAULT 0,
  payload TEXT NOT NULL DEFAULT '{}',
  idempotency_key TEXT NOT NULL,
  request_id TEXT NOT NULL DEFAULT '',
  occurred_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  actor_uid TEXT NOT NULL,
  actor_role TEXT NOT NULL DEFAULT '',
  action TEXT NOT NULL,
  target_kind TEXT NOT NULL DEFAULT '',
  target_id TEXT NOT NULL DEFAULT '',
  ip TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  request_id TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_events (
  event_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  test_id TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL,
  starts_at_ms INTEGER NOT NULL,
  ends_at_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (event_id, user_id)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS courses (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  code TEXT NOT NULL,
  term TEXT NOT NULL,
  code_term_norm TEXT NOT NULL UNIQUE,
  archived INTEGER NOT NULL DEFAULT 0,
  visibility TEXT NOT NULL DEFAULT 'enrolled_only',
  created_by TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS enrollments (
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  status TEXT NOT NULL,
  added_by TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (course_id, user_id)
);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  mode TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  attempts_allowed INTEGER NOT NULL DEFAULT 1,
  duration_minutes INTEGER NOT NULL DEFAULT 0,
  active_version INTEGER NOT NULL DEFAULT 0,
  shuffle INTEGER NOT NULL DEFAULT 0,
  is_assessed INTEGER NOT NULL DEFAULT 0,
  window_start_ms BIGINT NOT NULL DEFAULT 0,
  window_end_ms BIGINT NOT NULL DEFAULT 0,
  points_possible DOUBLE PRECISION NOT NULL DEFAULT 0,
  questions_json TEXT NOT NULL DEFAULT '[]',
  created_by TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_versions (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  version INTEGER NOT NULL,
  questions_json TEXT NOT NULL,
  points_possible DOUBLE PRECISION NOT NULL DEFAULT 0,
  frozen_at BIGINT NOT NULL,
  frozen_by TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (test_id, version)
);

CREATE TABLE IF NOT EXISTS attempts (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  attempt_no INTEGER NOT NULL,
  status TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  expires_at_ms BIGINT NOT NULL,
  test_version INTEGER NOT NULL,
  form_seed TEXT NOT NULL,
  form_json TEXT NOT NULL,
  answers_json TEXT NOT NULL DEFAULT '{}',
  score DOUBLE PRECISION NOT NULL DEFAULT 0,
  breakdown_json TEXT NOT NULL DEFAULT '[]',
  graded_at BIGINT,
  graded_by TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (test_id, id),
  UNIQUE (test_id, user_id, attempt_no)
);

CREATE TABLE IF NOT EXISTS grades (
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  source_type TEXT NOT NULL,
  source_id TEXT NOT NULL,
  source_version INTEGER NOT NULL DEFAULT 0,
  score DOUBLE PRECISION NOT NULL DEFAULT 0,
  points_possible DOUBLE PRECISION NOT NULL DEFAULT 0,
  grade_revision INTEGER NOT NULL DEFAULT 1,
  graded_at BIGINT NOT NULL,
  graded_by TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (course_id, id)
);

CREATE TABLE IF NOT EXISTS gradebook (
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  student_id TEXT NOT NULL,
  total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  total_possible DOUBLE PRECISION NOT NULL DEFAULT 0,
  computed_at BIGINT NOT NULL,
  updated_by TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (course_id, student_id)
);

CREATE TABLE IF NOT EXISTS domain_events (
  id TEXT PRIMARY KEY,
  typ TEXT NOT NULL,
  course_id TEXT NOT NULL,
  actor_uid TEXT NOT NULL,
  actor_role TEXT NOT NULL DEFAULT '',
  agg_kind TEXT NOT NULL DEFAULT '',
  agg_id TEXT NOT NULL DEFAULT '',
  agg_version INTEGER NOT NULL DEFAULT 0,
  payload TEXT NOT NULL DEFAULT '{}',
  idempotency_key TEXT NOT NULL,
  request_id TEXT NOT NULL DEFAULT '',
  occurred_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
  id BIGSERIAL PRIMARY KEY,
  actor_uid TEXT NOT NULL,
  actor_role TEXT NOT NULL DEFAULT '',
  action TEXT NOT NULL,
  target_kind TEXT NOT NULL DEFAULT '',
  target_id TEXT NOT NULL DEFAULT '',
  ip TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  request_id TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '{}',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_events (
  event_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  test_id TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL,
  starts_at_ms BIGINT NOT NULL,
  ends_at_ms BIGINT NOT NULL,
  created_at BIGINT NOT NULL,
  PRIMARY KEY (event_id, user_id)
);
`
