package http

import (
	"log"
	nethttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/classtrack/classtrack-portal/internal/apperr"
	"github.com/classtrack/classtrack-portal/internal/audit"
	authmw "github.com/classtrack/classtrack-portal/internal/auth/middleware"
	"github.com/classtrack/classtrack-portal/internal/event"
	"github.com/classtrack/classtrack-portal/internal/gradebook"
	"github.com/classtrack/classtrack-portal/internal/rbac"
)

// GET /courses/{courseID}/gradebook/{studentID}
func GetGradebookHandler(store *gradebook.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		studentID := chi.URLParam(r, "studentID")
		sub := authmw.SubjectFromContext(r.Context())
		role := rbac.RoleFromContext(r.Context())
		if studentID != sub && role != "instructor" && role != "admin" {
			writeError(w, r, apperr.Forbidden("gradebook belongs to another student"))
			return
		}
		e, err := store.Get(r.Context(), courseID, studentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, e)
	}
}

// POST /courses/{courseID}/gradebook/{studentID}/recompute  {reason?}
func RecomputeGradebookHandler(store *gradebook.Store, aud *audit.Logger, ev *event.Emitter) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		studentID := chi.URLParam(r, "studentID")
		var req struct {
			Reason string `json:"reason"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		sub := authmw.SubjectFromContext(r.Context())
		role := rbac.RoleFromContext(r.Context())

		res, err := store.RecomputeStudent(r.Context(), courseID, studentID, sub)
		if err != nil {
			writeError(w, r, err)
			return
		}
		reqID := middleware.GetReqID(r.Context())
		if res.DriftFlagged {
			log.Printf("gradebook drift for %s/%s: score %+.3f possible %+.3f (request %s)",
				courseID, studentID, res.DeltaScore, res.DeltaPossible, reqID)
		}

		aud.Record(r.Context(), audit.Entry{
			ActorUID:   sub,
			ActorRole:  role,
			Action:     "gradebook.recompute",
			TargetKind: "gradebook",
			TargetID:   courseID + "/" + studentID,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			RequestID:  reqID,
			Metadata:   map[string]any{"reason": req.Reason, "driftFlagged": res.DriftFlagged},
		})
		if _, err := ev.Emit(r.Context(), event.TypeGradebookRecomputed, courseID,
			event.Actor{UID: sub, Role: role},
			event.Aggregate{Kind: "gradebook", ID: studentID},
			map[string]any{
				"before":       res.Before,
				"after":        res.After,
				"deltaScore":   res.DeltaScore,
				"driftFlagged": res.DriftFlagged,
			},
			"gradebook.recompute:"+courseID+":"+studentID+":"+reqID, reqID); err != nil {
			log.Printf("emit %s for %s failed: %v (request %s)", event.TypeGradebookRecomputed, studentID, err, reqID)
		}

		writeJSON(w, nethttp.StatusOK, map[string]any{
			"ok":            true,
			"totalScore":    res.After.TotalScore,
			"totalPossible": res.After.TotalPossible,
			"driftFlagged":  res.DriftFlagged,
		})
	}
}
