package handler

import (
	"github.com/parcelworks/batchd/internal/server"
	"github.com/parcelworks/batchd/internal/service"
)

// Handlers is a container that groups all HTTP handlers, so the router
// setup receives one object instead of many.
type Handlers struct {
	Health  *HealthHandler  // Health serves service health endpoints (liveness/readiness).
	OpenAPI *OpenAPIHandler // OpenAPI serves API documentation.
	Batch   *BatchHandler   // Batch serves batch mutation, label processing, and error listing.
}

// NewHandlers constructs the handler container.
func NewHandlers(s *server.Server, services *service.Services) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(s),
		OpenAPI: NewOpenAPIHandler(s),
		Batch:   NewBatchHandler(s, services.Batch),
	}
}
