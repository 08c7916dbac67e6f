// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api is the HTTP boundary: submission, status, cancel and asset
// access. Handlers stay thin; all domain logic lives in the coordinator and
// the asset store.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/clipforge/internal/assets"
	clog "github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/coordinator"
	"github.com/ManuGH/clipforge/internal/version"
)

// Server wires the coordinator and asset store into a chi router.
type Server struct {
	Coord  *coordinator.Coordinator
	Assets *assets.Store

	// RateLimitRPM caps submissions per client IP per minute. Zero disables
	// the limiter.
	RateLimitRPM int

	log zerolog.Logger
}

func NewServer(coord *coordinator.Coordinator, store *assets.Store, rateLimitRPM int) *Server {
	return &Server{
		Coord:        coord,
		Assets:       store,
		RateLimitRPM: rateLimitRPM,
		log:          clog.WithComponent("api"),
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		submit := r.With()
		if s.RateLimitRPM > 0 {
			submit = r.With(httprate.Limit(
				s.RateLimitRPM,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Retry-After", "60")
					writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				}),
			))
		}
		submit.Post("/requests", s.handleSubmit)

		r.Get("/requests/{id}", s.handleStatus)
		r.Post("/requests/{id}/cancel", s.handleCancel)

		r.Get("/assets/{kind}", s.handleListAssets)
		r.Get("/assets/{kind}/{id}", s.handleDownloadAsset)
	})
	return r
}

// requestID assigns each request a correlation ID, echoed back in the
// X-Request-ID header and attached to all downstream log events.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(clog.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := clog.WithContext(r.Context(), s.log)
		logger.Info().
			Str("method", r.Method).
			Str(clog.FieldPath, r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
