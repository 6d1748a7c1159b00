package http

import (
	nethttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"

	authmw "github.com/classtrack/classtrack-portal/internal/auth/middleware"
	"github.com/classtrack/classtrack-portal/internal/calendar"
	"github.com/classtrack/classtrack-portal/internal/event"
)

// GET /courses/{courseID}/events?limit=
func ListEventsHandler(ev *event.Emitter) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		list, err := ev.List(r.Context(), courseID, parseIntDefault(r.URL.Query().Get("limit"), 50))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"ok": true, "events": list})
	}
}

// GET /calendar returns the caller's upcoming entries.
func ListCalendarHandler(cal *calendar.Fanout) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sub := authmw.SubjectFromContext(r.Context())
		list, err := cal.ListForUser(r.Context(), sub, time.Now().UnixMilli(), parseIntDefault(r.URL.Query().Get("limit"), 50))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"ok": true, "entries": list})
	}
}
