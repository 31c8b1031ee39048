package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/service"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	Logger        *slog.Logger
	AllowedOrigin string
	Store         Pinger
	Verifier      Verifier

	// Metrics serves /metrics. It is not mounted when nil.
	Metrics    http.Handler
	Users      *service.UserService
	Activities *service.ActivityService
	Enrollment *service.EnrollmentService
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	users := NewUserHandler(cfg.Users)
	activities := NewActivityHandler(cfg.Activities, cfg.Enrollment)
	registrations := NewRegistrationHandler(cfg.Enrollment)
	auth := Authenticate(cfg.Verifier)

	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(cfg.Logger))
	r.Use(CORS(cfg.AllowedOrigin))

	r.Get("/health", HealthCheck(cfg.Store))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/register", users.Register)
			r.Post("/login", users.Login)
			r.With(auth).Get("/me", users.Me)
		})

		r.Route("/activities", func(r chi.Router) {
			r.Get("/", activities.List)
			r.Get("/{id}", activities.Get)

			r.Group(func(r chi.Router) {
				r.Use(auth)
				r.Post("/", activities.Create)
				r.Put("/{id}", activities.Update)
				r.Delete("/{id}", activities.Delete)
				r.Put("/{id}/status", activities.ChangeStatus)
				r.Post("/{id}/comments", activities.Comment)
				r.Put("/{id}/comments", activities.Comment)
				r.Get("/{id}/comments", activities.ListComments)
			})
		})

		r.Route("/registrations", func(r chi.Router) {
			r.Use(auth)
			r.Post("/", registrations.Enroll)
			r.Get("/my", registrations.ListMine)
			r.Get("/activity/{id}", registrations.ListForActivity)
			r.Put("/activity/{id}", registrations.Amend)
			r.Put("/{id}/status", registrations.SetStatus)
			r.Get("/{id}", registrations.Get)
			r.Delete("/{id}", registrations.Withdraw)
		})
	})

	return r
}
