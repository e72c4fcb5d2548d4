package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parcelworks/batchd/internal/handler"
	"github.com/parcelworks/batchd/internal/middleware"
)

// registerAPIRoutes registers the business route groups. All batch
// routes require an authenticated caller.
func registerAPIRoutes(r *echo.Echo, h *handler.Handlers, m *middleware.Middlewares) {
	batches := r.Group("/api/v1/batches", m.Auth.RequireAuth)

	// Member mutation. Adding to an unknown batch creates it.
	batches.POST("/:batch_id/shipments",
		handler.Handle(h.Batch.Handler, h.Batch.AddMembers, http.StatusOK, &handler.MutateMembersRequest{}))
	batches.DELETE("/:batch_id/shipments",
		handler.Handle(h.Batch.Handler, h.Batch.RemoveMembers, http.StatusOK, &handler.MutateMembersRequest{}))

	// Batch reads and deletion.
	batches.GET("/:batch_id",
		handler.Handle(h.Batch.Handler, h.Batch.GetBatch, http.StatusOK, &handler.BatchRequest{}))
	batches.DELETE("/:batch_id",
		handler.HandleNoContent(h.Batch.Handler, h.Batch.DeleteBatch, http.StatusNoContent, &handler.BatchRequest{}))

	// Label processing is asynchronous: the request is acknowledged with
	// 202 and runs on the job workers.
	batches.POST("/:batch_id/process_labels",
		handler.Handle(h.Batch.Handler, h.Batch.ProcessLabels, http.StatusAccepted, &handler.ProcessLabelsRequest{}))

	// Paginated error listing.
	batches.GET("/:batch_id/errors",
		handler.Handle(h.Batch.Handler, h.Batch.ListErrors, http.StatusOK, &handler.ListErrorsRequest{}))
}
