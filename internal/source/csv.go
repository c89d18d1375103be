package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// CSVSource reads tables from a directory of <table>.csv files, the shape
// produced by exporting spreadsheet tabs. The first row is the header.
type CSVSource struct {
	dir string
}

// NewCSV creates a CSVSource rooted at dir.
func NewCSV(dir string) (*CSVSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrSourceUnavailable, dir)
	}
	return &CSVSource{dir: dir}, nil
}

// FetchTable parses <dir>/<name>.csv into rows.
func (c *CSVSource) FetchTable(ctx context.Context, name string) ([]model.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(c.dir, name+".csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %q: %w", name, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []model.Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", name, err)
		}
		row := make(model.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Tables lists the .csv files in the directory.
func (c *CSVSource) Tables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := strings.CutSuffix(e.Name(), ".csv"); ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for the csv backend.
func (c *CSVSource) Close() error { return nil }
