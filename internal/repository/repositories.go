package repository

import (
	"github.com/parcelworks/batchd/internal/server"
)

// Repositories is a container for all repository instances. Constructed
// once at startup and handed to the service layer.
type Repositories struct {
	Batches *BatchRepository
}

// NewRepositories constructs the repository container from the shared
// application resources (the pgx pool lives on s.DB).
func NewRepositories(s *server.Server) *Repositories {
	return &Repositories{
		Batches: NewBatchRepository(s.DB.Pool),
	}
}
