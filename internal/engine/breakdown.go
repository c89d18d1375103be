package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opsmetric-team/opsmetric/internal/catalogue"
	"github.com/opsmetric-team/opsmetric/internal/model"
)

// Breakdown decomposes a KPI's value by one of its permitted root-cause
// dimensions under the same filter context used for Compute.
//
// Each partition recomputes the aggregation independently; the parent's
// scalar is never re-sliced, since ratio and average aggregations do not
// decompose linearly. Rows with an empty dimension value land in an
// explicit Unspecified bucket.
func (e *Engine) Breakdown(ctx context.Context, kpiID string, fc model.FilterContext, dimension string) (*model.BreakdownResult, error) {
	def, ok := e.cat.Get(kpiID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKPI, kpiID)
	}

	dims := def
	if def.Aggregation == catalogue.AggRatio {
		// Ratio definitions carry no dimensions of their own; the numerator
		// KPI declares the drill-down surface.
		numDef, ok := e.cat.Get(def.NumeratorID)
		if !ok {
			return nil, fmt.Errorf("%w: ratio numerator %q", ErrUnknownKPI, def.NumeratorID)
		}
		dims = numDef
	}
	if !dims.PermitsDimension(dimension) {
		return nil, fmt.Errorf("%w: %q is not a root-cause dimension of KPI %q", ErrInvalidDimension, dimension, kpiID)
	}

	parent, err := e.Compute(ctx, kpiID, fc)
	if err != nil {
		return nil, err
	}

	var groups []model.BreakdownGroup
	if def.Aggregation == catalogue.AggRatio {
		groups, err = e.ratioGroups(ctx, def, fc, dimension)
	} else {
		groups, err = e.plainGroups(ctx, def, fc, dimension)
	}
	if err != nil {
		return nil, err
	}

	attachShares(groups, parent, def.Aggregation)
	sortGroups(groups)

	return &model.BreakdownResult{
		KPIID:     def.ID,
		Name:      def.Name,
		Dimension: dimension,
		Parent:    parent,
		Groups:    groups,
	}, nil
}

// plainGroups partitions the filtered subset and recomputes the
// aggregation per partition.
func (e *Engine) plainGroups(ctx context.Context, def *catalogue.Definition, fc model.FilterContext, dimension string) ([]model.BreakdownGroup, error) {
	rows, err := e.fetch.FetchTable(ctx, def.SourceTable)
	if err != nil {
		return nil, fmt.Errorf("fetching %q for KPI %q: %w", def.SourceTable, def.ID, err)
	}
	filtered := e.applyFilters(rows, def, fc)

	parts := partition(filtered, dimension)
	groups := make([]model.BreakdownGroup, 0, len(parts))
	for value, sub := range parts {
		agg, defined := aggregate(sub, def)
		groups = append(groups, model.BreakdownGroup{
			Value:     value,
			Aggregate: agg,
			Defined:   defined,
			Records:   len(sub),
		})
	}
	return groups, nil
}

// ratioGroups recomputes each partition's ratio from the numerator and
// denominator subsets restricted to that partition. Partitions whose
// denominator is zero are kept with Defined=false.
func (e *Engine) ratioGroups(ctx context.Context, def *catalogue.Definition, fc model.FilterContext, dimension string) ([]model.BreakdownGroup, error) {
	numDef, _ := e.cat.Get(def.NumeratorID)
	denDef, _ := e.cat.Get(def.DenominatorID)

	numParts, err := e.fetchPartitions(ctx, numDef, fc, dimension)
	if err != nil {
		return nil, err
	}
	denParts, err := e.fetchPartitions(ctx, denDef, fc, dimension)
	if err != nil {
		return nil, err
	}

	values := make(map[string]bool)
	for v := range numParts {
		values[v] = true
	}
	for v := range denParts {
		values[v] = true
	}

	groups := make([]model.BreakdownGroup, 0, len(values))
	for value := range values {
		numAgg, numOK := aggregate(numParts[value], numDef)
		denAgg, denOK := aggregate(denParts[value], denDef)

		g := model.BreakdownGroup{
			Value:   value,
			Records: len(numParts[value]),
		}
		if numOK && denOK && denAgg != 0 {
			g.Aggregate = numAgg / denAgg * 100
			g.Defined = true
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// fetchPartitions returns a component KPI's filtered subset partitioned by
// the dimension. Ratio components are themselves plain KPIs.
func (e *Engine) fetchPartitions(ctx context.Context, def *catalogue.Definition, fc model.FilterContext, dimension string) (map[string][]model.Row, error) {
	rows, err := e.fetch.FetchTable(ctx, def.SourceTable)
	if err != nil {
		return nil, fmt.Errorf("fetching %q for KPI %q: %w", def.SourceTable, def.ID, err)
	}
	return partition(e.applyFilters(rows, def, fc), dimension), nil
}

// partition splits rows by the dimension's values. Missing and empty
// values collapse into the Unspecified bucket.
func partition(rows []model.Row, dimension string) map[string][]model.Row {
	parts := make(map[string][]model.Row)
	for _, row := range rows {
		value := strings.TrimSpace(row[dimension])
		if value == "" {
			value = model.Unspecified
		}
		parts[value] = append(parts[value], row)
	}
	return parts
}

// attachShares fills each group's contribution share. Sum and count shares
// are value proportions of the parent and total 1 across the groups; for
// the non-additive aggregations the share is the record proportion.
func attachShares(groups []model.BreakdownGroup, parent *model.KPIResult, aggregation string) {
	switch aggregation {
	case catalogue.AggSum, catalogue.AggCount:
		if !parent.Defined || parent.Value == 0 {
			return
		}
		for i := range groups {
			groups[i].Share = groups[i].Aggregate / parent.Value
		}
	default:
		if parent.RecordCount == 0 {
			return
		}
		for i := range groups {
			groups[i].Share = float64(groups[i].Records) / float64(parent.RecordCount)
		}
	}
}

// sortGroups orders defined groups first, descending by aggregate, with a
// lexical tie-break on the dimension value for determinism.
func sortGroups(groups []model.BreakdownGroup) {
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Defined != b.Defined {
			return a.Defined
		}
		if a.Aggregate != b.Aggregate {
			return a.Aggregate > b.Aggregate
		}
		return a.Value < b.Value
	})
}
