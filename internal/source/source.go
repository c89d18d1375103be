// Package source provides data source backends delivering raw tabular
// records. The calculation engine is backend-agnostic: every backend
// exposes the same Source contract, and no engine behavior may depend on
// which backend is active.
package source

import (
	"context"
	"errors"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// ErrTableNotFound is returned when the named table does not exist in the
// backend. Use errors.Is to test wrapped returns.
var ErrTableNotFound = errors.New("table not found")

// ErrSourceUnavailable is returned on connectivity or authentication
// failure against the backend.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source is the uniform tabular read contract over a backend.
type Source interface {
	// FetchTable returns every row of the named table.
	FetchTable(ctx context.Context, name string) ([]model.Row, error)

	// Tables lists the table names the backend exposes.
	Tables(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
