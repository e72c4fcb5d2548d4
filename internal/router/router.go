// Package router initializes the HTTP router (using Echo).
//
// It registers the middlewares and defines the API route groups,
// mapping specific paths to their corresponding handlers.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/parcelworks/batchd/internal/handler"
	"github.com/parcelworks/batchd/internal/middleware"
)

// New builds the Echo router with the full middleware chain and all
// route groups registered.
//
// Middleware order matters: recovery first so panics anywhere below are
// caught; request IDs before tracing and the context enhancer so every
// later layer sees correlation fields; the request logger last so it
// observes the final status.
func New(h *handler.Handlers, m *middleware.Middlewares) *echo.Echo {
	r := echo.New()

	r.HideBanner = true
	r.HidePort = true

	// Every error funnels through the global handler for a uniform
	// response schema.
	r.HTTPErrorHandler = m.Global.GlobalErrorHandler

	r.Use(m.Global.Recover())
	r.Use(middleware.RequestID())
	r.Use(m.Tracing.NewRelicMiddleware())
	r.Use(m.ContextEnhancer.EnhanceContext())
	r.Use(m.Tracing.EnhanceTracing())
	r.Use(m.Global.Secure())
	r.Use(m.Global.CORS())
	r.Use(m.Global.RequestLogger())

	registerSystemRoutes(r, h)
	registerAPIRoutes(r, h, m)

	return r
}
