package http

import (
	"fmt"
	"log"
	nethttp "net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/classtrack/classtrack-portal/internal/apperr"
	"github.com/classtrack/classtrack-portal/internal/assess"
	"github.com/classtrack/classtrack-portal/internal/audit"
	authmw "github.com/classtrack/classtrack-portal/internal/auth/middleware"
	"github.com/classtrack/classtrack-portal/internal/event"
	"github.com/classtrack/classtrack-portal/internal/rbac"
)

// POST /courses/{courseID}/tests/{testID}/attempts
func StartAttemptHandler(store *assess.Store, aud *audit.Logger, ev *event.Emitter) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		testID := chi.URLParam(r, "testID")
		sub := authmw.SubjectFromContext(r.Context())
		role := rbac.RoleFromContext(r.Context())

		res, err := store.StartAttempt(r.Context(), courseID, testID, sub, role)
		if err != nil {
			writeError(w, r, err)
			return
		}

		reqID := middleware.GetReqID(r.Context())
		aud.Record(r.Context(), audit.Entry{
			ActorUID:   sub,
			ActorRole:  role,
			Action:     "test.attempt.start",
			TargetKind: "attempt",
			TargetID:   testID + "/" + res.AttemptID,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			RequestID:  reqID,
			Metadata:   map[string]any{"attemptNo": res.AttemptNo, "version": res.TestVersion},
		})
		idemKey := fmt.Sprintf("%s:%s:%d", testID, res.AttemptID, res.TestVersion)
		if _, err := ev.Emit(r.Context(), event.TypeAttemptStarted, courseID,
			event.Actor{UID: sub, Role: role},
			event.Aggregate{Kind: "attempt", ID: res.AttemptID, Version: res.TestVersion},
			map[string]any{"testId": testID, "attemptNo": res.AttemptNo},
			idemKey, reqID); err != nil {
			log.Printf("emit %s for %s failed: %v (request %s)", event.TypeAttemptStarted, res.AttemptID, err, reqID)
		}

		writeJSON(w, nethttp.StatusOK, map[string]any{
			"ok":              true,
			"attemptId":       res.AttemptID,
			"expiresAtMillis": res.ExpiresAtMillis,
			"test":            res.Test,
			"form":            map[string]any{"questions": res.Questions},
		})
	}
}

// POST /courses/{courseID}/tests/{testID}/attempts/{attemptID}/submit  {answers}
func SubmitAttemptHandler(store *assess.Store, aud *audit.Logger, ev *event.Emitter) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		testID := chi.URLParam(r, "testID")
		attemptID := chi.URLParam(r, "attemptID")
		var req struct {
			Answers map[string]string `json:"answers"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		sub := authmw.SubjectFromContext(r.Context())
		role := rbac.RoleFromContext(r.Context())

		res, err := store.SubmitAttempt(r.Context(), courseID, testID, attemptID, sub, req.Answers)
		if err != nil {
			writeError(w, r, err)
			return
		}

		reqID := middleware.GetReqID(r.Context())
		aud.Record(r.Context(), audit.Entry{
			ActorUID:   sub,
			ActorRole:  role,
			Action:     "test.attempt.submit",
			TargetKind: "attempt",
			TargetID:   testID + "/" + attemptID,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			RequestID:  reqID,
			Metadata:   map[string]any{"score": res.Score, "version": res.TestVersion},
		})
		actor := event.Actor{UID: sub, Role: role}
		submitKey := fmt.Sprintf("%s:%s:%d:submitted", testID, attemptID, res.TestVersion)
		if _, err := ev.Emit(r.Context(), event.TypeAttemptSubmitted, courseID, actor,
			event.Aggregate{Kind: "attempt", ID: attemptID, Version: res.TestVersion},
			map[string]any{"testId": testID, "score": res.Score, "pointsPossible": res.PointsPossible},
			submitKey, reqID); err != nil {
			log.Printf("emit %s for %s failed: %v (request %s)", event.TypeAttemptSubmitted, attemptID, err, reqID)
		}
		if res.Grade != nil {
			gradeKey := fmt.Sprintf("%s:%s:%s:%d", courseID, testID, res.StudentID, res.Grade.Revision)
			if _, err := ev.Emit(r.Context(), event.TypeGradeMutated, courseID, actor,
				event.Aggregate{Kind: "grade", ID: res.Grade.GradeID, Version: res.Grade.Revision},
				map[string]any{"score": res.Score, "delta": res.Grade.Delta},
				gradeKey, reqID); err != nil {
				log.Printf("emit %s for %s failed: %v (request %s)", event.TypeGradeMutated, res.Grade.GradeID, err, reqID)
			}
		}

		writeJSON(w, nethttp.StatusOK, map[string]any{
			"ok":             true,
			"score":          res.Score,
			"pointsPossible": res.PointsPossible,
			"isAssessed":     res.IsAssessed,
		})
	}
}

// GET /courses/{courseID}/tests/{testID}/attempts/{attemptID}
func GetAttemptHandler(store *assess.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		testID := chi.URLParam(r, "testID")
		attemptID := chi.URLParam(r, "attemptID")
		sub := authmw.SubjectFromContext(r.Context())
		role := rbac.RoleFromContext(r.Context())

		a, err := store.GetAttempt(r.Context(), testID, attemptID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if a.UserID != sub && role != "instructor" && role != "admin" {
			writeError(w, r, apperr.Forbidden("attempt belongs to another user"))
			return
		}
		writeJSON(w, nethttp.StatusOK, a)
	}
}

// GET /courses/{courseID}/tests/{testID}/attempts?userId=&status=&limit=&offset=
// Students are scoped to their own attempts regardless of filters.
func ListAttemptsHandler(store *assess.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		testID := chi.URLParam(r, "testID")
		sub := authmw.SubjectFromContext(r.Context())
		role := rbac.RoleFromContext(r.Context())

		opts := assess.ListOpts{
			UserID: r.URL.Query().Get("userId"),
			Status: r.URL.Query().Get("status"),
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		}
		if role != "instructor" && role != "admin" {
			opts.UserID = sub
		}
		list, err := store.ListAttempts(r.Context(), testID, opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"ok": true, "attempts": list})
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
