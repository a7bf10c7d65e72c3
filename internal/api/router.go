package api

import (
	"net/http"

	"github.com/ayo6706/remit-board/internal/api/handler"
	"github.com/ayo6706/remit-board/internal/api/middleware"
	"github.com/ayo6706/remit-board/internal/api/spec"
	"github.com/ayo6706/remit-board/internal/config"
	"github.com/ayo6706/remit-board/internal/idempotency"
	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Dependencies are the collaborators the HTTP surface is built from.
// Idempotency is nil on the memory driver.
type Dependencies struct {
	Requests      *service.RequestService
	Comments      *service.CommentService
	RequestMirror *livesync.Mirror[models.TransferRequest]
	CommentSource livesync.Source[models.Comment]
	MirrorOptions []livesync.Option
	Sessions      *identity.Sessions
	Challenger    *identity.Challenger
	Federated     *identity.FederatedVerifier
	Redirects     identity.RedirectStore
	Idempotency   *idempotency.Store
	Health        *handler.HealthHandler
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   Dependencies
}

func NewRouter(cfg *config.Config, logger *zap.Logger, deps Dependencies) *Router {
	if deps.Health == nil {
		deps.Health = handler.NewHealthHandler()
	}
	return &Router{cfg: cfg, logger: logger, deps: deps}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Trace-ID"},
		ExposedHeaders:   []string{"Location", "X-Trace-ID", "X-Idempotent-Replay", "X-Mirror-Version", "X-Mirror-Stale"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	d := api.deps

	// Handlers
	requestHandler := handler.NewRequestHandler(d.Requests, d.RequestMirror)
	commentHandler := handler.NewCommentHandler(d.Comments)
	authHandler := handler.NewAuthHandler(d.Sessions, d.Challenger, d.Federated, d.Redirects)
	liveSettings := handler.DefaultLiveSettings()
	liveSettings.AllowedOrigins = api.cfg.CORSAllowedOrigins
	liveHandler := handler.NewLiveHandler(d.RequestMirror, d.CommentSource, d.Requests, d.Sessions, liveSettings, d.MirrorOptions...)

	// Operational
	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Route("/v1", func(r chi.Router) {
		// Public Routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

			r.Get("/countries", handler.Countries)
			r.Get("/currencies", handler.Currencies)

			r.Post("/auth/challenges", authHandler.RequestChallenge)
			r.Post("/auth/challenges/{id}/confirm", authHandler.ConfirmChallenge)
			r.Post("/auth/federated", authHandler.Federated)
			r.Post("/auth/redirects", authHandler.SaveRedirect)

			r.Get("/requests", requestHandler.List)
			r.Get("/requests/summary", requestHandler.Summary)
			r.Get("/requests/{id}", requestHandler.Get)
			r.Get("/requests/{id}/comments", commentHandler.List)
		})

		// Live feeds carry long-lived connections and sit outside the request rate limit.
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuthMiddleware(d.Sessions))
			r.Get("/requests/live", liveHandler.Requests)
			r.Get("/requests/{id}/comments/live", liveHandler.Comments)
		})

		// Protected Routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.Sessions))
			r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

			idem := middleware.IdempotencyMiddleware(d.Idempotency, api.logger)

			r.Get("/auth/session", authHandler.Session)
			r.Post("/auth/signout", authHandler.SignOut)

			r.With(idem).Post("/requests", requestHandler.Create)
			r.Put("/requests/{id}", requestHandler.Update)
			r.Delete("/requests/{id}", requestHandler.Delete)

			r.With(idem).Post("/requests/{id}/comments", commentHandler.Add)
			r.Delete("/comments/{id}", commentHandler.Delete)
		})
	})

	return r
}
