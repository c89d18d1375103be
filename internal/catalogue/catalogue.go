// Package catalogue loads and validates the declarative KPI registry.
//
// The catalogue is itself a table: one row per KPI, with columns for the
// aggregation kind, the source table, up to five static filters and up to
// five permitted breakdown dimensions. Loading is read-only and every load
// produces an independent Catalogue instance.
package catalogue

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// Aggregation kinds recognized by the engine.
const (
	AggSum     = "sum"
	AggCount   = "count"
	AggAverage = "average"
	AggMin     = "min"
	AggMax     = "max"
	AggRatio   = "ratio"
)

// maxFilters and maxDimensions bound the numbered catalogue columns
// (filter_1_field .. filter_5_field, root_cause_dim_1 .. root_cause_dim_5).
const (
	maxFilters    = 5
	maxDimensions = 5
)

// Filter operators recognized in catalogue rows.
var validOperators = map[string]bool{
	"equal":        true,
	"not_equal":    true,
	"greater_than": true,
	"less_than":    true,
	"contains":     true,
}

var validAggregations = map[string]bool{
	AggSum:     true,
	AggCount:   true,
	AggAverage: true,
	AggMin:     true,
	AggMax:     true,
	AggRatio:   true,
}

// ratioFormula matches "numerator_kpi / denominator_kpi".
var ratioFormula = regexp.MustCompile(`^(\w+)\s*/\s*(\w+)$`)

// Filter is one static predicate attached to a KPI definition.
type Filter struct {
	// Field is the data column the predicate applies to.
	Field string

	// Operator is one of equal, not_equal, greater_than, less_than, contains.
	Operator string

	// Value is the comparison operand. For dynamic filters it is a
	// placeholder: selected_country, selected_week or selected_client,
	// resolved from the FilterContext at computation time.
	Value string

	// Dynamic marks Value as a placeholder.
	Dynamic bool
}

// Definition is one KPI entry. Immutable after load.
type Definition struct {
	ID          string
	Name        string
	Description string

	// SourceTable is the raw data table. Empty for ratio KPIs, which read
	// through their component definitions.
	SourceTable string

	// Aggregation is one of the Agg* constants.
	Aggregation string

	// MeasureField is the numeric column for sum/average/min/max.
	MeasureField string

	// DateField, when set, is the column checked against a FilterContext
	// time window.
	DateField string

	// NumeratorID and DenominatorID name the component KPIs of a ratio.
	NumeratorID   string
	DenominatorID string

	// Filters are applied in order before aggregation.
	Filters []Filter

	// Dimensions are the permitted breakdown (root cause) dimensions.
	Dimensions []string
}

// PermitsDimension reports whether dim is a declared breakdown dimension.
func (d *Definition) PermitsDimension(dim string) bool {
	for _, have := range d.Dimensions {
		if have == dim {
			return true
		}
	}
	return false
}

// Catalogue is an immutable set of KPI definitions.
type Catalogue struct {
	defs  []Definition
	index map[string]*Definition
}

// Get returns the definition for an id.
func (c *Catalogue) Get(id string) (*Definition, bool) {
	d, ok := c.index[id]
	return d, ok
}

// All returns the definitions in load order.
func (c *Catalogue) All() []Definition {
	return c.defs
}

// Len returns the number of loaded definitions.
func (c *Catalogue) Len() int {
	return len(c.defs)
}

// RowError describes why one catalogue row was rejected.
type RowError struct {
	// Row is the 1-based position in the catalogue table.
	Row int

	// KPIID is the row's kpi_id, possibly empty.
	KPIID string

	// Problems lists every validation failure found in the row.
	Problems []string
}

func (e RowError) Error() string {
	id := e.KPIID
	if id == "" {
		id = "<missing kpi_id>"
	}
	return fmt.Sprintf("row %d (%s): %s", e.Row, id, strings.Join(e.Problems, "; "))
}

// ParseError aggregates every rejected row from one load. Valid rows still
// load; callers decide whether partial catalogues are acceptable.
type ParseError struct {
	Rows []RowError
}

func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		msgs[i] = r.Error()
	}
	return fmt.Sprintf("catalogue: %d invalid row(s):\n  - %s",
		len(e.Rows), strings.Join(msgs, "\n  - "))
}

// Load parses raw catalogue rows into a Catalogue.
//
// Rows that fail validation are collected into a *ParseError covering every
// failure, not just the first. When at least one row is valid the catalogue
// is returned alongside the error so partial loads remain usable.
func Load(rows []model.Row) (*Catalogue, error) {
	cat := &Catalogue{index: make(map[string]*Definition)}
	var perr ParseError

	// First pass: parse rows independently.
	for i, row := range rows {
		def, problems := parseRow(row)
		if _, dup := cat.index[def.ID]; dup && def.ID != "" {
			problems = append(problems, fmt.Sprintf("duplicate kpi_id %q", def.ID))
		}
		if len(problems) > 0 {
			perr.Rows = append(perr.Rows, RowError{Row: i + 1, KPIID: def.ID, Problems: problems})
			continue
		}
		cat.defs = append(cat.defs, def)
		cat.index[def.ID] = &cat.defs[len(cat.defs)-1]
	}

	// Second pass: ratio component references must resolve within the load.
	kept := cat.defs[:0]
	for i := range cat.defs {
		def := cat.defs[i]
		if def.Aggregation == AggRatio {
			var problems []string
			if _, ok := cat.index[def.NumeratorID]; !ok {
				problems = append(problems, fmt.Sprintf("numerator %q not in catalogue", def.NumeratorID))
			}
			if _, ok := cat.index[def.DenominatorID]; !ok {
				problems = append(problems, fmt.Sprintf("denominator %q not in catalogue", def.DenominatorID))
			}
			if len(problems) > 0 {
				perr.Rows = append(perr.Rows, RowError{Row: rowOf(rows, def.ID), KPIID: def.ID, Problems: problems})
				continue
			}
		}
		kept = append(kept, def)
	}
	cat.defs = kept
	cat.index = make(map[string]*Definition, len(kept))
	for i := range cat.defs {
		cat.index[cat.defs[i].ID] = &cat.defs[i]
	}

	if len(perr.Rows) > 0 {
		sort.Slice(perr.Rows, func(i, j int) bool { return perr.Rows[i].Row < perr.Rows[j].Row })
		return cat, &perr
	}
	return cat, nil
}

// rowOf recovers the 1-based table position of a kpi_id for error reporting.
func rowOf(rows []model.Row, id string) int {
	for i, row := range rows {
		if strings.TrimSpace(row["kpi_id"]) == id {
			return i + 1
		}
	}
	return 0
}

func parseRow(row model.Row) (Definition, []string) {
	var problems []string

	def := Definition{
		ID:           strings.TrimSpace(row["kpi_id"]),
		Name:         strings.TrimSpace(row["kpi_name"]),
		Description:  strings.TrimSpace(row["description"]),
		SourceTable:  strings.TrimSpace(row["source_table"]),
		Aggregation:  strings.ToLower(strings.TrimSpace(row["aggregation_type"])),
		MeasureField: strings.TrimSpace(row["measure_field"]),
		DateField:    strings.TrimSpace(row["date_field"]),
	}

	if def.ID == "" {
		problems = append(problems, "missing kpi_id")
	}
	if def.Name == "" {
		problems = append(problems, "missing kpi_name")
	}

	if def.Aggregation == "" {
		problems = append(problems, "missing aggregation_type")
	} else if !validAggregations[def.Aggregation] {
		problems = append(problems, fmt.Sprintf("unknown aggregation_type %q", def.Aggregation))
	}

	switch def.Aggregation {
	case AggRatio:
		// Ratio formula lives in measure_field: "numerator / denominator".
		m := ratioFormula.FindStringSubmatch(def.MeasureField)
		if m == nil {
			problems = append(problems, fmt.Sprintf("ratio formula %q is not of the form \"a / b\"", def.MeasureField))
		} else {
			def.NumeratorID = m[1]
			def.DenominatorID = m[2]
		}
	case AggSum, AggAverage, AggMin, AggMax:
		if def.SourceTable == "" {
			problems = append(problems, "missing source_table")
		}
		if def.MeasureField == "" {
			problems = append(problems, fmt.Sprintf("aggregation %q requires measure_field", def.Aggregation))
		}
	case AggCount:
		if def.SourceTable == "" {
			problems = append(problems, "missing source_table")
		}
	}

	for i := 1; i <= maxFilters; i++ {
		field := strings.TrimSpace(row[fmt.Sprintf("filter_%d_field", i)])
		if field == "" {
			continue
		}
		f := Filter{
			Field:    field,
			Operator: strings.TrimSpace(row[fmt.Sprintf("filter_%d_operator", i)]),
			Value:    strings.TrimSpace(row[fmt.Sprintf("filter_%d_value", i)]),
			Dynamic:  strings.TrimSpace(row[fmt.Sprintf("filter_%d_value_type", i)]) == "dynamic",
		}
		if !validOperators[f.Operator] {
			problems = append(problems, fmt.Sprintf("filter %d: unknown operator %q", i, f.Operator))
			continue
		}
		def.Filters = append(def.Filters, f)
	}

	for i := 1; i <= maxDimensions; i++ {
		dim := strings.TrimSpace(row[fmt.Sprintf("root_cause_dim_%d", i)])
		if dim != "" {
			def.Dimensions = append(def.Dimensions, dim)
		}
	}

	return def, problems
}
