// Package engine computes KPI values and root-cause breakdowns from
// catalogue definitions and raw data tables.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/opsmetric-team/opsmetric/internal/catalogue"
	"github.com/opsmetric-team/opsmetric/internal/model"
)

// ErrUnknownKPI is returned when a KPI id is not in the catalogue.
var ErrUnknownKPI = errors.New("unknown KPI")

// ErrInvalidDimension is returned when a breakdown dimension is not among
// a definition's permitted root-cause dimensions.
var ErrInvalidDimension = errors.New("invalid breakdown dimension")

// TableFetcher is the table-read capability the engine consumes. A
// source.Session satisfies it; the engine never knows which backend is
// behind it.
type TableFetcher interface {
	FetchTable(ctx context.Context, name string) ([]model.Row, error)
}

// Engine computes KPI results against a catalogue and a table fetcher.
type Engine struct {
	cat       *catalogue.Catalogue
	fetch     TableFetcher
	countries map[string]string
}

// New creates an Engine. The default country alias table is installed;
// override it with SetCountryAliases.
func New(cat *catalogue.Catalogue, fetch TableFetcher) *Engine {
	return &Engine{
		cat:       cat,
		fetch:     fetch,
		countries: defaultCountryAliases,
	}
}

// SetCountryAliases replaces the display-code to data-value mapping used
// when resolving the selected_country dynamic filter.
func (e *Engine) SetCountryAliases(aliases map[string]string) {
	if len(aliases) > 0 {
		e.countries = aliases
	}
}

// Catalogue returns the engine's catalogue.
func (e *Engine) Catalogue() *catalogue.Catalogue {
	return e.cat
}

// Compute calculates one KPI under a filter context.
//
// An empty filtered subset is not an error: the result carries RecordCount
// 0 and, for aggregations with no meaningful empty value (average, min,
// max, ratio), Defined=false.
func (e *Engine) Compute(ctx context.Context, kpiID string, fc model.FilterContext) (*model.KPIResult, error) {
	def, ok := e.cat.Get(kpiID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKPI, kpiID)
	}

	if def.Aggregation == catalogue.AggRatio {
		return e.computeRatio(ctx, def, fc)
	}

	rows, err := e.fetch.FetchTable(ctx, def.SourceTable)
	if err != nil {
		return nil, fmt.Errorf("fetching %q for KPI %q: %w", def.SourceTable, kpiID, err)
	}

	filtered := e.applyFilters(rows, def, fc)
	value, defined := aggregate(filtered, def)

	return &model.KPIResult{
		KPIID:       def.ID,
		Name:        def.Name,
		Value:       value,
		Defined:     defined,
		Aggregation: def.Aggregation,
		SourceTable: def.SourceTable,
		RecordCount: len(filtered),
		Context:     fc,
	}, nil
}

// computeRatio calculates a ratio KPI from its component KPIs, expressed
// as a percentage. A zero or undefined denominator yields an undefined
// result rather than an error, so drill-down surfaces can render it as an
// explicit empty state.
func (e *Engine) computeRatio(ctx context.Context, def *catalogue.Definition, fc model.FilterContext) (*model.KPIResult, error) {
	num, err := e.Compute(ctx, def.NumeratorID, fc)
	if err != nil {
		return nil, fmt.Errorf("ratio %q numerator: %w", def.ID, err)
	}
	den, err := e.Compute(ctx, def.DenominatorID, fc)
	if err != nil {
		return nil, fmt.Errorf("ratio %q denominator: %w", def.ID, err)
	}

	result := &model.KPIResult{
		KPIID:       def.ID,
		Name:        def.Name,
		Aggregation: def.Aggregation,
		RecordCount: num.RecordCount,
		Numerator:   &model.RatioPart{KPIID: num.KPIID, Name: num.Name, Value: num.Value},
		Denominator: &model.RatioPart{KPIID: den.KPIID, Name: den.Name, Value: den.Value},
		Context:     fc,
	}

	if !num.Defined || !den.Defined || den.Value == 0 {
		return result, nil
	}

	result.Value = num.Value / den.Value * 100
	result.Defined = true
	return result, nil
}

// ComputeAll calculates every catalogue KPI under one filter context, in
// catalogue order. Per-KPI failures are reported in place of the result so
// one broken table does not take down the whole board.
func (e *Engine) ComputeAll(ctx context.Context, fc model.FilterContext) ([]*model.KPIResult, []error) {
	var results []*model.KPIResult
	var errs []error
	for _, def := range e.cat.All() {
		res, err := e.Compute(ctx, def.ID, fc)
		if err != nil {
			errs = append(errs, fmt.Errorf("KPI %q: %w", def.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// Weeks returns the distinct values of the first week-like column of a
// table, sorted ascending. Used to populate week selectors.
func (e *Engine) Weeks(ctx context.Context, table string) ([]string, error) {
	return e.distinct(ctx, table, "week")
}

// Countries returns the distinct values of the first country-like column
// of a table, sorted ascending.
func (e *Engine) Countries(ctx context.Context, table string) ([]string, error) {
	return e.distinct(ctx, table, "country")
}

func (e *Engine) distinct(ctx context.Context, table, nameHint string) ([]string, error) {
	rows, err := e.fetch.FetchTable(ctx, table)
	if err != nil {
		return nil, err
	}

	var column string
	for _, col := range model.Columns(rows) {
		if strings.Contains(strings.ToLower(col), nameHint) {
			column = col
			break
		}
	}
	if column == "" {
		return nil, nil
	}

	seen := make(map[string]bool)
	var values []string
	for _, row := range rows {
		v := strings.TrimSpace(row[column])
		if v != "" && !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values, nil
}

// aggregate reduces filtered rows per the definition's aggregation kind.
// Non-numeric cells are skipped for measure aggregations, matching the
// tolerant coercion the data's spreadsheet origin requires.
func aggregate(rows []model.Row, def *catalogue.Definition) (float64, bool) {
	switch def.Aggregation {
	case catalogue.AggCount:
		return float64(len(rows)), true

	case catalogue.AggSum:
		var total float64
		for _, row := range rows {
			if v, ok := row.Float(def.MeasureField); ok {
				total += v
			}
		}
		return total, true

	case catalogue.AggAverage:
		var total float64
		var n int
		for _, row := range rows {
			if v, ok := row.Float(def.MeasureField); ok {
				total += v
				n++
			}
		}
		if n == 0 {
			return 0, false
		}
		return total / float64(n), true

	case catalogue.AggMin, catalogue.AggMax:
		var best float64
		found := false
		for _, row := range rows {
			v, ok := row.Float(def.MeasureField)
			if !ok {
				continue
			}
			if !found ||
				(def.Aggregation == catalogue.AggMin && v < best) ||
				(def.Aggregation == catalogue.AggMax && v > best) {
				best = v
				found = true
			}
		}
		return best, found
	}
	return 0, false
}
