package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/baechuer/urlmeta/internal/metrics"
	"github.com/baechuer/urlmeta/internal/transport/http/handlers"
	"github.com/baechuer/urlmeta/internal/transport/http/middleware"
)

func New(m *handlers.MetadataHandler, z *handlers.HealthHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog)

	r.Get("/health/live", z.Live)
	r.Get("/health/ready", z.Ready)

	r.Route("/metadata", func(r chi.Router) {
		r.Post("/", m.Post)
		r.Get("/", m.Get)
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
