package catalogue

import (
	"errors"
	"strings"
	"testing"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

func validRow(id string) model.Row {
	return model.Row{
		"kpi_id":           id,
		"kpi_name":         "KPI " + id,
		"source_table":     "interventions",
		"aggregation_type": "count",
	}
}

func TestLoad(t *testing.T) {
	rows := []model.Row{
		{
			"kpi_id":              "total_cost",
			"kpi_name":            "Total Cost",
			"source_table":        "interventions",
			"aggregation_type":    "sum",
			"measure_field":       "cost",
			"date_field":          "intervention_date",
			"filter_1_field":      "country",
			"filter_1_operator":   "equal",
			"filter_1_value_type": "dynamic",
			"filter_1_value":      "selected_country",
			"root_cause_dim_1":    "priority",
			"root_cause_dim_2":    "client",
		},
		{
			"kpi_id":           "intervention_count",
			"kpi_name":         "Intervention Count",
			"source_table":     "interventions",
			"aggregation_type": "count",
		},
	}

	cat, err := Load(rows)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cat.Len())
	}

	def, ok := cat.Get("total_cost")
	if !ok {
		t.Fatal("Get(total_cost) not found")
	}
	if def.Aggregation != AggSum {
		t.Errorf("Aggregation = %q, want sum", def.Aggregation)
	}
	if def.MeasureField != "cost" {
		t.Errorf("MeasureField = %q, want cost", def.MeasureField)
	}
	if len(def.Filters) != 1 {
		t.Fatalf("len(Filters) = %d, want 1", len(def.Filters))
	}
	if !def.Filters[0].Dynamic {
		t.Error("filter 1 should be dynamic")
	}
	if !def.PermitsDimension("priority") || !def.PermitsDimension("client") {
		t.Error("declared dimensions should be permitted")
	}
	if def.PermitsDimension("technician") {
		t.Error("undeclared dimension should not be permitted")
	}
}

func TestLoad_RatioFormula(t *testing.T) {
	rows := []model.Row{
		validRow("performed"),
		validRow("planned"),
		{
			"kpi_id":           "completion_rate",
			"kpi_name":         "Completion Rate",
			"aggregation_type": "ratio",
			"measure_field":    "performed / planned",
		},
	}

	cat, err := Load(rows)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	def, ok := cat.Get("completion_rate")
	if !ok {
		t.Fatal("Get(completion_rate) not found")
	}
	if def.NumeratorID != "performed" {
		t.Errorf("NumeratorID = %q, want performed", def.NumeratorID)
	}
	if def.DenominatorID != "planned" {
		t.Errorf("DenominatorID = %q, want planned", def.DenominatorID)
	}
}

func TestLoad_CollectsAllFailures(t *testing.T) {
	rows := []model.Row{
		{
			// row 1: missing id, name and source table
			"aggregation_type": "sum",
			"measure_field":    "cost",
		},
		validRow("good"),
		{
			// row 3: bad aggregation and bad operator
			"kpi_id":            "broken",
			"kpi_name":          "Broken",
			"source_table":      "interventions",
			"aggregation_type":  "median",
			"filter_1_field":    "status",
			"filter_1_operator": "matches",
		},
	}

	cat, err := Load(rows)
	if err == nil {
		t.Fatal("Load() should report invalid rows")
	}

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error is %T, want *ParseError", err)
	}
	if len(perr.Rows) != 2 {
		t.Fatalf("ParseError covers %d rows, want 2", len(perr.Rows))
	}
	if perr.Rows[0].Row != 1 || perr.Rows[1].Row != 3 {
		t.Errorf("rejected rows = %d, %d, want 1, 3", perr.Rows[0].Row, perr.Rows[1].Row)
	}
	if len(perr.Rows[0].Problems) != 3 {
		t.Errorf("row 1 problems = %v, want 3 entries", perr.Rows[0].Problems)
	}
	if len(perr.Rows[1].Problems) != 2 {
		t.Errorf("row 3 problems = %v, want 2 entries", perr.Rows[1].Problems)
	}

	// The valid row must still load.
	if cat == nil || cat.Len() != 1 {
		t.Fatal("valid rows should load despite failures")
	}
	if _, ok := cat.Get("good"); !ok {
		t.Error("Get(good) not found in partial catalogue")
	}
}

func TestLoad_DuplicateID(t *testing.T) {
	rows := []model.Row{
		validRow("dup"),
		validRow("dup"),
	}

	cat, err := Load(rows)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error is %T, want *ParseError", err)
	}
	if len(perr.Rows) != 1 || perr.Rows[0].Row != 2 {
		t.Fatalf("duplicate should reject row 2 only, got %+v", perr.Rows)
	}
	if cat.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cat.Len())
	}
}

func TestLoad_RatioReferences(t *testing.T) {
	rows := []model.Row{
		validRow("performed"),
		{
			"kpi_id":           "completion_rate",
			"kpi_name":         "Completion Rate",
			"aggregation_type": "ratio",
			"measure_field":    "performed / planned",
		},
	}

	cat, err := Load(rows)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error is %T, want *ParseError", err)
	}
	if len(perr.Rows) != 1 {
		t.Fatalf("ParseError covers %d rows, want 1", len(perr.Rows))
	}
	if !strings.Contains(perr.Rows[0].Problems[0], "planned") {
		t.Errorf("problem should name the missing component, got %v", perr.Rows[0].Problems)
	}
	if _, ok := cat.Get("completion_rate"); ok {
		t.Error("unresolvable ratio should not load")
	}
	if _, ok := cat.Get("performed"); !ok {
		t.Error("component KPI should still load")
	}
}

func TestLoad_BadRatioFormula(t *testing.T) {
	rows := []model.Row{
		{
			"kpi_id":           "bad_ratio",
			"kpi_name":         "Bad Ratio",
			"aggregation_type": "ratio",
			"measure_field":    "a / b / c",
		},
	}

	_, err := Load(rows)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error is %T, want *ParseError", err)
	}
	if !strings.Contains(perr.Error(), "a / b / c") {
		t.Errorf("error should quote the formula, got %q", perr.Error())
	}
}

func TestLoad_Empty(t *testing.T) {
	cat, err := Load(nil)
	if err != nil {
		t.Fatalf("Load(nil) returned error: %v", err)
	}
	if cat.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cat.Len())
	}
}
