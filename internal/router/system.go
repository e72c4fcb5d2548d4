package router

import (
	"github.com/labstack/echo/v4"

	"github.com/parcelworks/batchd/internal/handler"
)

// registerSystemRoutes registers endpoints that are not part of
// business logic: health status, docs UI, and the static assets the
// docs UI reads.
func registerSystemRoutes(r *echo.Echo, h *handler.Handlers) {
	// Health status endpoint (used by Kubernetes/monitors).
	r.GET("/status", h.Health.CheckHealth)

	// Serve all files from ./static at /static/*.
	// Used for openapi.json and openapi.html.
	r.Static("/static", "static")

	// Docs UI endpoint (serves openapi.html).
	r.GET("/docs", h.OpenAPI.ServeOpenAPIUI)
}
