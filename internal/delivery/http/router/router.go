package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/delivery/http/handler"
	"github.com/user/affiliate-ingest/internal/delivery/http/middleware"
)

func New(h *handler.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealthCheck)
		r.Get("/sources", h.HandleListSources)
		r.Post("/ingest", h.HandleIngestAll)
		r.Route("/sources/{id}", func(r chi.Router) {
			r.Post("/ingest", h.HandleIngestSource)
			r.Get("/results", h.HandleListResults)
		})
	})

	return r
}
