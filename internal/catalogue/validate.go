package catalogue

import (
	"context"
	"fmt"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// TableFetcher is the read capability needed for column validation.
type TableFetcher interface {
	FetchTable(ctx context.Context, name string) ([]model.Row, error)
}

// CheckColumns verifies that every definition's measure field, date field
// and breakdown dimensions exist as columns of the declared source table.
//
// Failures are aggregated into a *ParseError, one entry per offending
// definition. Tables that cannot be fetched are reported once and their
// definitions are otherwise skipped; connectivity problems should not mask
// column problems in tables that did load.
func (c *Catalogue) CheckColumns(ctx context.Context, fetch TableFetcher) error {
	columns := make(map[string]map[string]bool)
	fetchFailed := make(map[string]string)

	colsFor := func(table string) (map[string]bool, bool) {
		if cols, ok := columns[table]; ok {
			return cols, true
		}
		if _, failed := fetchFailed[table]; failed {
			return nil, false
		}
		rows, err := fetch.FetchTable(ctx, table)
		if err != nil {
			fetchFailed[table] = err.Error()
			return nil, false
		}
		cols := make(map[string]bool)
		for _, col := range model.Columns(rows) {
			cols[col] = true
		}
		columns[table] = cols
		return cols, true
	}

	var perr ParseError
	for i := range c.defs {
		def := &c.defs[i]
		if def.SourceTable == "" {
			continue // ratio KPIs validate through their components
		}
		cols, ok := colsFor(def.SourceTable)
		if !ok {
			perr.Rows = append(perr.Rows, RowError{
				KPIID:    def.ID,
				Problems: []string{fmt.Sprintf("source table %q: %s", def.SourceTable, fetchFailed[def.SourceTable])},
			})
			continue
		}

		var problems []string
		if def.MeasureField != "" && def.Aggregation != AggRatio && !cols[def.MeasureField] {
			problems = append(problems, fmt.Sprintf("measure_field %q not in table %q", def.MeasureField, def.SourceTable))
		}
		if def.DateField != "" && !cols[def.DateField] {
			problems = append(problems, fmt.Sprintf("date_field %q not in table %q", def.DateField, def.SourceTable))
		}
		for _, dim := range def.Dimensions {
			if !cols[dim] {
				problems = append(problems, fmt.Sprintf("breakdown dimension %q not in table %q", dim, def.SourceTable))
			}
		}
		if len(problems) > 0 {
			perr.Rows = append(perr.Rows, RowError{KPIID: def.ID, Problems: problems})
		}
	}

	if len(perr.Rows) > 0 {
		return &perr
	}
	return nil
}
