package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opsmetric-team/opsmetric/internal/config"
	"github.com/opsmetric-team/opsmetric/internal/model"
)

// identifier restricts table names to plain identifiers; anything else is
// rejected before it reaches the query text.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_ ]*$`)

// SQLSource reads tables from a relational backend over database/sql.
// Supported drivers: postgres (lib/pq) and sqlite (modernc.org/sqlite).
type SQLSource struct {
	db     *sql.DB
	driver string
}

// NewSQL opens a SQLSource for the configured backend.
func NewSQL(cfg *config.SourceConfig) (*SQLSource, error) {
	var db *sql.DB
	var err error

	switch cfg.Backend {
	case "postgres":
		db, err = sql.Open("postgres", cfg.DSN())
	case "sqlite":
		db, err = sql.Open("sqlite", cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported sql backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	// Read-only workload; keep the pool small.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &SQLSource{db: db, driver: cfg.Backend}, nil
}

// Ping tests the database connection.
func (s *SQLSource) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// FetchTable reads every row of the named table as string cells.
func (s *SQLSource) FetchTable(ctx context.Context, name string) ([]model.Row, error) {
	if !identifier.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrTableNotFound, name)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, s.quote(name)))
	if err != nil {
		return nil, s.classify(name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %q: %w", name, err)
	}

	var out []model.Row
	cells := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range cells {
		dest[i] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row of %q: %w", name, err)
		}
		row := make(model.Row, len(cols))
		for i, col := range cols {
			if cells[i].Valid {
				row[col] = cells[i].String
			} else {
				row[col] = ""
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows of %q: %w", name, err)
	}

	return out, nil
}

// Tables lists the tables visible to the connection.
func (s *SQLSource) Tables(ctx context.Context) ([]string, error) {
	var query string
	switch s.driver {
	case "postgres":
		query = `SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename`
	default: // sqlite
		query = `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.classify("", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table names: %w", err)
	}
	return names, nil
}

// quote wraps a validated identifier for the active driver.
func (s *SQLSource) quote(name string) string {
	return `"` + name + `"`
}

// classify maps driver errors onto the source error taxonomy.
func (s *SQLSource) classify(table string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "42P01": // undefined_table
			return fmt.Errorf("%w: %q", ErrTableNotFound, table)
		case pqErr.Code.Class() == "08": // connection exceptions
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		case pqErr.Code == "28000" || pqErr.Code == "28P01": // auth failures
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
	}
	// The sqlite driver reports missing tables as plain text.
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	if table != "" {
		return fmt.Errorf("querying %q: %w", table, err)
	}
	return err
}
