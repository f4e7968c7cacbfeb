// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelab/reelab/internal/logging"
	"github.com/reelab/reelab/internal/metrics"
)

// RouterConfig holds HTTP behavior settings.
type RouterConfig struct {
	CORSOrigins       []string
	RateLimitReqs     int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// Router wires the handler set into a chi mux.
type Router struct {
	handler *Handler
	config  RouterConfig

	// GatewayHandler, when set, replaces the local serving handler on
	// GET /recommend/{userID}. Used when this instance runs as the
	// round-robin front door instead of a variant server.
	GatewayHandler http.HandlerFunc
}

// NewRouter creates a router over the given handlers.
func NewRouter(handler *Handler, cfg RouterConfig) *Router {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 300
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Router{handler: handler, config: cfg}
}

// Setup builds the HTTP handler with the full middleware stack.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:           300,
		AllowCredentials: false,
	}))
	r.Use(prometheusMiddleware)

	if !rt.config.RateLimitDisabled {
		r.Use(httprate.LimitByIP(rt.config.RateLimitReqs, rt.config.RateLimitWindow))
	}

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", rt.handler.Health)
		r.Get("/live", rt.handler.HealthLive)
		r.Get("/ready", rt.handler.HealthReady)
	})

	recommend := http.HandlerFunc(rt.handler.Recommend)
	if rt.GatewayHandler != nil {
		recommend = rt.GatewayHandler
	}
	r.Get("/recommend/{userID}", recommend)

	r.Get("/evaluate", rt.handler.Evaluate)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/reports", rt.handler.Reports)
		r.Get("/telemetry", rt.handler.Telemetry)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger propagates the chi request ID into the logging context and
// emits a debug access line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
			ctx = logging.ContextWithRequestID(ctx, reqID)
		}

		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.Ctx(ctx).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Msg("request handled")
	})
}

// prometheusMiddleware records request counts and latency per route.
func prometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		metrics.RecordAPIRequest(r.Method, endpoint, ww.Status(), time.Since(started))
	})
}
