package http

import (
	nethttp "net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/classtrack/classtrack-portal/internal/audit"
	authmw "github.com/classtrack/classtrack-portal/internal/auth/middleware"
	"github.com/classtrack/classtrack-portal/internal/course"
	"github.com/classtrack/classtrack-portal/internal/rbac"
)

// POST /courses  {name, code, term, visibility?}
func CreateCourseHandler(store *course.Store, aud *audit.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req struct {
			Name       string `json:"name"`
			Code       string `json:"code"`
			Term       string `json:"term"`
			Visibility string `json:"visibility"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		sub := authmw.SubjectFromContext(r.Context())
		c, err := store.Create(r.Context(), req.Name, req.Code, req.Term, req.Visibility, sub)
		if err != nil {
			writeError(w, r, err)
			return
		}
		aud.Record(r.Context(), audit.Entry{
			ActorUID:   sub,
			ActorRole:  rbac.RoleFromContext(r.Context()),
			Action:     "course.create",
			TargetKind: "course",
			TargetID:   c.ID,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			RequestID:  middleware.GetReqID(r.Context()),
			Metadata:   map[string]any{"code": c.Code, "term": c.Term},
		})
		writeJSON(w, nethttp.StatusOK, map[string]any{"ok": true, "courseId": c.ID})
	}
}

// POST /courses/{courseID}/enrollments  {userId, role, status}
func SetEnrollmentHandler(store *course.Store, aud *audit.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		var req struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
			Status string `json:"status"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.UserID) == "" {
			writeError(w, r, errMissing("userId"))
			return
		}
		sub := authmw.SubjectFromContext(r.Context())
		if err := store.SetEnrollment(r.Context(), courseID, req.UserID, req.Role, req.Status, sub); err != nil {
			writeError(w, r, err)
			return
		}
		aud.Record(r.Context(), audit.Entry{
			ActorUID:   sub,
			ActorRole:  rbac.RoleFromContext(r.Context()),
			Action:     "enrollment.set",
			TargetKind: "enrollment",
			TargetID:   courseID + "/" + req.UserID,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			RequestID:  middleware.GetReqID(r.Context()),
			Metadata:   map[string]any{"role": req.Role, "status": req.Status},
		})
		writeJSON(w, nethttp.StatusOK, map[string]any{"ok": true})
	}
}
