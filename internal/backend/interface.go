package backend

import (
	"context"
	"time"

	"finstats/internal/source"
)

// Purger drops responses a backend keeps cached.
type Purger interface {
	Purge()
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the source and what the caller must release.
type BackendResult struct {
	Source source.Source
	// Purger is nil when the backend caches nothing.
	Purger  Purger
	Cleanup CleanupFunc
}

// Factory creates sources based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// API specific
	APIBaseURL  string
	APIToken    string
	APITimeout  time.Duration
	APILocation *time.Location

	// Response cache for the api backend
	CacheBackend string
	CacheTTL     time.Duration
	CacheSize    int
	RedisAddr    string

	// SQLite specific
	SQLiteDBPath string

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleTransactionsSheet  string
	GoogleLogsSheet          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Memory backend specific
	DataDirectory string

	// Location interprets zone-less dates for local backends.
	Location *time.Location
}

// BackendType represents the type of backend
type BackendType string

const (
	APIBackend    BackendType = "api"
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case APIBackend, SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
