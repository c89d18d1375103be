// Package model defines the core data structures used by opsmetric.
package model

import (
	"strconv"
	"strings"
	"time"
)

// Row is one raw record from a data table, keyed by column name.
// Source backends deliver every cell as a string (spreadsheet exports carry
// no type information); numeric and date interpretation happens at read time.
type Row map[string]string

// Value returns the raw cell for a column and whether the column exists.
func (r Row) Value(column string) (string, bool) {
	v, ok := r[column]
	return v, ok
}

// Float parses a cell as a number. Thousands separators are tolerated.
// Returns false for missing columns and non-numeric cells.
func (r Row) Float(column string) (float64, bool) {
	raw, ok := r[column]
	if !ok {
		return 0, false
	}
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// dateLayouts are tried in order when parsing date cells.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02/01/2006 15:04",
}

// Date parses a cell as a timestamp. Returns false if the column is missing
// or the cell matches none of the supported layouts.
func (r Row) Date(column string) (time.Time, bool) {
	raw, ok := r[column]
	if !ok {
		return time.Time{}, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Columns returns the distinct column names present in a row set.
// Order follows the first row's iteration order and is not stable; callers
// that need determinism should sort.
func Columns(rows []Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	return cols
}
