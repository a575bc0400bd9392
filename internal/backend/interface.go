package backend

import (
	"context"

	"cpiweights/internal/storage"
	"cpiweights/internal/tables"
)

// Backend bundles every table port the HTTP server needs. All three
// implementations (memory, sqlite, sheets) satisfy it.
type Backend interface {
	tables.SeriesReader
	tables.AnchorReader
	tables.GroupReader
	tables.WeightWriter
	tables.WeightReader
	tables.ObservationWriter
}

// CleanupFunc releases backend resources on shutdown.
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function.
// Repository is set for the sqlite backend only; it gives callers access to
// the recompute queue behind the ports bundle.
type BackendResult struct {
	Backend    Backend
	Repository *storage.SQLiteRepository
	Cleanup    CleanupFunc
}

// Factory creates backends based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation.
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Memory backend specific
	DataDirectory string
}

// BackendType represents the type of backend.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer.
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid.
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
