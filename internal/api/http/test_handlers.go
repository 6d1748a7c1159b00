package http

import (
	"log"
	nethttp "net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/classtrack/classtrack-portal/internal/apperr"
	"github.com/classtrack/classtrack-portal/internal/assess"
	"github.com/classtrack/classtrack-portal/internal/audit"
	authmw "github.com/classtrack/classtrack-portal/internal/auth/middleware"
	"github.com/classtrack/classtrack-portal/internal/calendar"
	"github.com/classtrack/classtrack-portal/internal/course"
	"github.com/classtrack/classtrack-portal/internal/event"
	"github.com/classtrack/classtrack-portal/internal/rbac"
)

type testBody struct {
	Title             string            `json:"title"`
	Mode              string            `json:"mode"`
	AttemptsAllowed   int               `json:"attemptsAllowed"`
	DurationMinutes   int               `json:"durationMinutes"`
	Shuffle           bool              `json:"shuffle"`
	IsAssessed        bool              `json:"isAssessed"`
	WindowStartMillis int64             `json:"windowStartMillis"`
	WindowEndMillis   int64             `json:"windowEndMillis"`
	Questions         []assess.Question `json:"questions"`
}

func (b testBody) toTest(courseID, creator string) assess.Test {
	return assess.Test{
		CourseID:          courseID,
		Title:             b.Title,
		Mode:              b.Mode,
		AttemptsAllowed:   b.AttemptsAllowed,
		DurationMinutes:   b.DurationMinutes,
		Shuffle:           b.Shuffle,
		IsAssessed:        b.IsAssessed,
		WindowStartMillis: b.WindowStartMillis,
		WindowEndMillis:   b.WindowEndMillis,
		Questions:         b.Questions,
		CreatedBy:         creator,
	}
}

// POST /courses/{courseID}/tests
func CreateTestHandler(store *assess.Store, aud *audit.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		var req testBody
		if !decodeBody(w, r, &req) {
			return
		}
		sub := authmw.SubjectFromContext(r.Context())
		t, err := store.CreateTest(r.Context(), req.toTest(courseID, sub))
		if err != nil {
			writeError(w, r, err)
			return
		}
		aud.Record(r.Context(), audit.Entry{
			ActorUID:   sub,
			ActorRole:  rbac.RoleFromContext(r.Context()),
			Action:     "test.create",
			TargetKind: "test",
			TargetID:   t.ID,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			RequestID:  middleware.GetReqID(r.Context()),
		})
		writeJSON(w, nethttp.StatusOK, map[string]any{"ok": true, "testId": t.ID})
	}
}

// PUT /courses/{courseID}/tests/{testID}
func UpdateTestHandler(store *assess.Store, aud *audit.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		testID := chi.URLParam(r, "testID")
		var req testBody
		if !decodeBody(w, r, &req) {
			return
		}
		sub := authmw.SubjectFromContext(r.Context())
		if _, err := store.UpdateTest(r.Context(), courseID, testID, req.toTest(courseID, sub)); err != nil {
			writeError(w, r, err)
			return
		}
		aud.Record(r.Context(), audit.Entry{
			ActorUID:   sub,
			ActorRole:  rbac.RoleFromContext(r.Context()),
			Action:     "test.update",
			TargetKind: "test",
			TargetID:   testID,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			RequestID:  middleware.GetReqID(r.Context()),
		})
		writeJSON(w, nethttp.StatusOK, map[string]any{"ok": true})
	}
}

// POST /courses/{courseID}/tests/{testID}/publish
//
// Fan-out size is checked before the publish transaction so an over-cap
// course fails with 413 and no state change. The fan-out itself runs after
// the publish commits and is non-fatal.
func PublishTestHandler(store *assess.Store, courses *course.Store, cal *calendar.Fanout, aud *audit.Logger, ev *event.Emitter, fanoutCap int) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		testID := chi.URLParam(r, "testID")
		sub := authmw.SubjectFromContext(r.Context())

		members, err := courses.ActiveMemberIDs(r.Context(), courseID, fanoutCap)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(members) > fanoutCap {
			writeError(w, r, apperr.TooLarge("course has too many members for calendar fan-out"))
			return
		}

		t, err := store.Publish(r.Context(), courseID, testID, sub)
		if err != nil {
			writeError(w, r, err)
			return
		}

		reqID := middleware.GetReqID(r.Context())
		calendarEventID := ""
		if t.Mode == assess.ModeScheduled {
			calendarEventID, err = cal.TestWindow(r.Context(), courseID, t.ID, t.Title, t.WindowStartMillis, t.WindowEndMillis, members)
			if err != nil {
				// publish already committed; skip the fan-out rather than fail
				log.Printf("calendar fan-out for test %s failed: %v (request %s)", t.ID, err, reqID)
				calendarEventID = ""
			}
		}

		aud.Record(r.Context(), audit.Entry{
			ActorUID:   sub,
			ActorRole:  rbac.RoleFromContext(r.Context()),
			Action:     "test.publish",
			TargetKind: "test",
			TargetID:   t.ID,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			RequestID:  reqID,
			Metadata:   map[string]any{"version": t.ActiveVersion},
		})
		if _, err := ev.Emit(r.Context(), event.TypeTestPublished, courseID,
			event.Actor{UID: sub, Role: rbac.RoleFromContext(r.Context())},
			event.Aggregate{Kind: "test", ID: t.ID, Version: t.ActiveVersion},
			map[string]any{"pointsPossible": t.PointsPossible},
			"test.published:"+t.ID+":"+strconv.Itoa(t.ActiveVersion), reqID); err != nil {
			log.Printf("emit test.published for %s failed: %v (request %s)", t.ID, err, reqID)
		}

		writeJSON(w, nethttp.StatusOK, map[string]any{"ok": true, "calendarEventId": calendarEventID})
	}
}
