package backend

import (
	"context"
	"slices"

	"serie/internal/services"
	"serie/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the wired store, notifier and series service.
type BackendResult struct {
	Store    storage.Store
	Notifier services.Notifier
	Service  *services.SeriesService
	Cleanup  CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP is optional; an empty URL keeps notifications local
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	HorizonMonths  int
	MaxOccurrences int
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	return slices.Contains(GetBackendTypes(), bt)
}
