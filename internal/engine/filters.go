package engine

import (
	"log"
	"strconv"
	"strings"

	"github.com/opsmetric-team/opsmetric/internal/catalogue"
	"github.com/opsmetric-team/opsmetric/internal/model"
)

// Dynamic filter placeholders resolved from the FilterContext.
const (
	placeholderCountry = "selected_country"
	placeholderWeek    = "selected_week"
	placeholderClient  = "selected_client"
)

// applyFilters narrows rows through the definition's static filters, then
// the context's time window. A dynamic filter whose context value is unset
// is skipped, so e.g. omitting the week yields an all-weeks aggregate.
func (e *Engine) applyFilters(rows []model.Row, def *catalogue.Definition, fc model.FilterContext) []model.Row {
	filtered := rows
	for _, f := range def.Filters {
		value, ok := e.resolveValue(f, fc)
		if !ok || value == "" {
			continue
		}
		filtered = applyFilter(filtered, f, value)
	}

	if fc.Window != nil && def.DateField != "" {
		kept := filtered[:0:0]
		for _, row := range filtered {
			if t, ok := row.Date(def.DateField); ok && fc.Window.Contains(t) {
				kept = append(kept, row)
			}
		}
		filtered = kept
	}

	return filtered
}

// resolveValue turns a filter's operand into a concrete comparison value.
func (e *Engine) resolveValue(f catalogue.Filter, fc model.FilterContext) (string, bool) {
	if !f.Dynamic {
		return f.Value, true
	}
	switch f.Value {
	case placeholderCountry:
		if fc.Country == "" {
			return "", false
		}
		return e.resolveCountry(fc.Country), true
	case placeholderWeek:
		return fc.Week, fc.Week != ""
	case placeholderClient:
		return fc.Client, fc.Client != ""
	}
	return "", false
}

func applyFilter(rows []model.Row, f catalogue.Filter, value string) []model.Row {
	warned := false
	kept := rows[:0:0]
	for _, row := range rows {
		cell, ok := row.Value(f.Field)
		if !ok {
			if !warned {
				log.Printf("Warning: filter field %q not found in data", f.Field)
				warned = true
			}
			// Original behavior: an unknown filter field skips the filter
			// rather than emptying the result.
			return rows
		}
		if matches(cell, f.Operator, value) {
			kept = append(kept, row)
		}
	}
	return kept
}

// matches applies one operator. Equality compares as strings so numeric
// cells like "1" match a filter value of 1; ordering operators coerce both
// sides to numbers and drop rows that fail to parse.
func matches(cell, operator, value string) bool {
	switch operator {
	case "equal":
		return cell != "" && strings.TrimSpace(cell) == value
	case "not_equal":
		return cell != "" && strings.TrimSpace(cell) != value
	case "greater_than":
		c, errC := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		v, errV := strconv.ParseFloat(value, 64)
		return errC == nil && errV == nil && c > v
	case "less_than":
		c, errC := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		v, errV := strconv.ParseFloat(value, 64)
		return errC == nil && errV == nil && c < v
	case "contains":
		return strings.Contains(cell, value)
	}
	return false
}
