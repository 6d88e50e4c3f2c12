package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/config"
	"github.com/ngn-platform/score-integrity/internal/metrics"
)

// NewRouter assembles the HTTP surface. The public verification
// endpoints sit behind CORS and per-caller rate limiting; everything
// that reads private data or mutates state requires a bearer token.
func NewRouter(h *Handlers, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Public verification surface. Receipts are shared with third
	// parties, so cross-origin reads are expected here.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet},
		}))
		r.Use(RateLimit(cfg.Receipt.RateLimitPerMin, cfg.Receipt.RateLimitBurst))
		r.Get("/verify", h.VerifyReceipt)
		r.Get("/receipts/public/{receiptID}", h.PublicReceipt)
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.Server.APITokens))
		r.Get("/receipts/private", h.PrivateReceipts)
		r.Post("/audit/verify-score", h.AuditAction)
	})

	return r
}

// requestLogger logs each request and feeds the request counter.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		zap.L().Debug("api request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
