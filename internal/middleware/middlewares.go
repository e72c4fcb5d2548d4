package middleware

import (
	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/parcelworks/batchd/internal/server"
)

// Middlewares is a lightweight container that groups all middleware
// components used by the HTTP server. It gives routing a single place
// from which shared dependencies (the app container and the New Relic
// application instance) are wired into middleware.
type Middlewares struct {
	// Global holds common middleware used across the whole API:
	// CORS, request logging, recovery, secure headers, and the global
	// error handler.
	Global *GlobalMiddlewares

	// Auth provides authentication middleware (Clerk-based) and attaches
	// the caller's identity to the request.
	Auth *AuthMiddleware

	// ContextEnhancer enriches each request with a request-scoped logger
	// (request_id, method, path, ip, optional user and trace metadata).
	ContextEnhancer *ContextEnhancer

	// Tracing provides New Relic middleware and helpers to attach custom
	// attributes and notice errors on transactions.
	Tracing *TracingMiddleware

	// RateLimit records rate limit telemetry as New Relic custom events.
	RateLimit *RateLimitMiddleware
}

// NewMiddlewares constructs all middleware components using the
// application container. When New Relic is not configured nrApp is nil
// and the tracing middleware degrades into a no-op.
func NewMiddlewares(s *server.Server) *Middlewares {
	var nrApp *newrelic.Application
	if s.LoggerService != nil {
		nrApp = s.LoggerService.GetApplication()
	}

	return &Middlewares{
		Global:          NewGlobalMiddlewares(s),
		Auth:            NewAuthMiddleware(s),
		ContextEnhancer: NewContextEnhancer(s),
		Tracing:         NewTracingMiddleware(s, nrApp),
		RateLimit:       NewRateLimitMiddleware(s),
	}
}
