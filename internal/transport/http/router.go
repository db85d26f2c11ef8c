package http

import (
	"net/http"

	"github.com/go-broker-agent/internal/config"
	"github.com/go-broker-agent/internal/transport/http/handler"
	appmiddleware "github.com/go-broker-agent/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10 — applied to endpoints that reach the
	// external broker.
	brokerRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	connH := handler.NewConnectionHandler(deps.ConnectionSvc, deps.Validator)
	notifH := handler.NewNotificationHandler(deps.NotificationSvc)
	reqH := handler.NewRequestHandler(deps.RequestSvc)
	eventH := handler.NewEventHandler(deps.Hub)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/connections", connH.Create)
			r.Get("/connections", connH.List)
			r.Get("/connections/{id}", connH.Get)
			r.Put("/connections/{id}/secret", connH.UpdateSecret)
			r.Put("/connections/{id}/active", connH.ToggleActive)
			r.Delete("/connections/{id}", connH.Delete)
			r.With(brokerRL.Limit).Post("/connections/{id}/validate", connH.Validate)

			r.Get("/notifications", notifH.List)
			r.Get("/notifications/unread-count", notifH.UnreadCount)
			r.Put("/notifications/read-all", notifH.MarkAllRead)
			r.Put("/notifications/{id}/read", notifH.MarkRead)

			r.With(brokerRL.Limit).Post("/requests", reqH.Dispatch)

			r.Get("/events", eventH.Stream)
		})
	})

	return r
}
