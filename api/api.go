// Package api exposes an admin HTTP API over a distributed job store.
//
// Routes:
//
//	GET    /v1/health
//	GET    /v1/workers
//	GET    /v1/jobs/{jobID}
//	GET    /v1/jobs/{jobID}/status
//	DELETE /v1/jobs/{jobID}
//	POST   /v1/jobs/{jobID}/retry
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/queuesched/store"
)

// API serves the admin routes for a store.
type API struct {
	store  store.Store
	logger *slog.Logger
	router chi.Router
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API backed by st.
func New(st store.Store, opts ...Option) *API {
	a := &API{
		store:  st,
		logger: slog.Default(),
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

// Handler returns the assembled http.Handler.
func (a *API) Handler() http.Handler { return a.router }

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) routes() {
	r := a.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/workers", a.handleListWorkers)

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", a.handleGetJob)
			r.Get("/status", a.handleGetJobStatus)
			r.Delete("/", a.handleCancelJob)
			r.Post("/retry", a.handleRetryJob)
		})
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		a.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
