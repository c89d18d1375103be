package source

import (
	"context"
	"sync"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// Session wraps a Source with a table cache scoped to one user session.
//
// Fetching raw tables is the only blocking I/O in a computation, so results
// are memoized per table name and reused across filter changes within the
// session. The cache is deliberately not a package-level singleton: each
// session owns its own instance, so concurrent sessions in a multi-user
// deployment never see each other's data.
type Session struct {
	src Source

	mu     sync.Mutex
	tables map[string][]model.Row
}

// NewSession creates a session-scoped cache over src.
func NewSession(src Source) *Session {
	return &Session{
		src:    src,
		tables: make(map[string][]model.Row),
	}
}

// FetchTable returns the cached rows for a table, fetching from the
// underlying source on first access. Errors are not cached; a failed fetch
// is retried on the next call.
func (s *Session) FetchTable(ctx context.Context, name string) ([]model.Row, error) {
	s.mu.Lock()
	rows, ok := s.tables[name]
	s.mu.Unlock()
	if ok {
		return rows, nil
	}

	rows, err := s.src.FetchTable(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tables[name] = rows
	s.mu.Unlock()
	return rows, nil
}

// Tables passes through to the underlying source.
func (s *Session) Tables(ctx context.Context) ([]string, error) {
	return s.src.Tables(ctx)
}

// Invalidate drops every cached table; the next fetch re-reads the source.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string][]model.Row)
}

// Close drops the cache. The underlying source is owned by the caller and
// is not closed here.
func (s *Session) Close() error {
	s.Invalidate()
	return nil
}
