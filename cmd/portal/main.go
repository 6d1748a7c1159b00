package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	api "github.com/classtrack/classtrack-portal/internal/api/http"
	"github.com/classtrack/classtrack-portal/internal/assess"
	"github.com/classtrack/classtrack-portal/internal/audit"
	auth "github.com/classtrack/classtrack-portal/internal/auth/middleware"
	"github.com/classtrack/classtrack-portal/internal/calendar"
	"github.com/classtrack/classtrack-portal/internal/config"
	"github.com/classtrack/classtrack-portal/internal/course"
	"github.com/classtrack/classtrack-portal/internal/db"
	"github.com/classtrack/classtrack-portal/internal/event"
	"github.com/classtrack/classtrack-portal/internal/gradebook"
	"github.com/classtrack/classtrack-portal/internal/rbac"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	if err := auth.EnsureBootstrapAdmin(ctx, dbh, cfg.AdminUser, cfg.AdminPassHash); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	courses := course.NewStore(dbh)
	tests := assess.NewStore(dbh)
	grades := gradebook.NewStore(dbh)
	events := event.NewEmitter(dbh)
	auditLog := audit.NewLogger(dbh)
	cal := calendar.NewFanout(dbh)

	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.EnableLocalAuth {
		r.With(middleware.AllowContentType("application/json")).
			Post("/auth/login", auth.LoginHandler(authSvc, dbh))
	}

	// Protected API (JWT → subject+role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(middleware.AllowContentType("application/json"))

		pr.Route("/courses", func(cr chi.Router) {
			cr.With(rbac.Require("course:create")).
				Post("/", api.CreateCourseHandler(courses, auditLog))

			cr.Route("/{courseID}", func(one chi.Router) {
				one.With(rbac.Require("enrollment:manage")).
					Post("/enrollments", api.SetEnrollmentHandler(courses, auditLog))

				one.With(rbac.Require("test:create")).
					Post("/tests", api.CreateTestHandler(tests, auditLog))
				one.With(rbac.Require("test:create")).
					Put("/tests/{testID}", api.UpdateTestHandler(tests, auditLog))
				one.With(rbac.Require("test:publish")).
					Post("/tests/{testID}/publish", api.PublishTestHandler(tests, courses, cal, auditLog, events, cfg.CalendarFanoutCap))

				one.With(rbac.Require("attempt:start")).
					Post("/tests/{testID}/attempts", api.StartAttemptHandler(tests, auditLog, events))
				one.With(rbac.Require("attempt:submit")).
					Post("/tests/{testID}/attempts/{attemptID}/submit", api.SubmitAttemptHandler(tests, auditLog, events))
				one.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
					Get("/tests/{testID}/attempts/{attemptID}", api.GetAttemptHandler(tests))
				one.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
					Get("/tests/{testID}/attempts", api.ListAttemptsHandler(tests))

				one.With(rbac.RequireAny("gradebook:view-own", "gradebook:view")).
					Get("/gradebook/{studentID}", api.GetGradebookHandler(grades))
				one.With(rbac.Require("gradebook:recompute")).
					Post("/gradebook/{studentID}/recompute", api.RecomputeGradebookHandler(grades, auditLog, events))

				one.With(rbac.Require("events:view")).
					Get("/events", api.ListEventsHandler(events))
			})
		})

		pr.Get("/calendar", api.ListCalendarHandler(cal))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
