package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsmetric-team/opsmetric/internal/catalogue"
	"github.com/opsmetric-team/opsmetric/internal/model"
)

// tableStub serves in-memory tables and records fetch counts.
type tableStub struct {
	tables  map[string][]model.Row
	fetches int
}

func (s *tableStub) FetchTable(ctx context.Context, name string) ([]model.Row, error) {
	s.fetches++
	rows, ok := s.tables[name]
	if !ok {
		return nil, errors.New("no such table: " + name)
	}
	return rows, nil
}

func mustCatalogue(t *testing.T, rows []model.Row) *catalogue.Catalogue {
	t.Helper()
	cat, err := catalogue.Load(rows)
	if err != nil {
		t.Fatalf("catalogue.Load() returned error: %v", err)
	}
	return cat
}

func testEngine(t *testing.T) *Engine {
	t.Helper()

	cat := mustCatalogue(t, []model.Row{
		{
			"kpi_id":              "total_cost",
			"kpi_name":            "Total Cost",
			"source_table":        "invoices",
			"aggregation_type":    "sum",
			"measure_field":       "amount",
			"date_field":          "issued_at",
			"filter_1_field":      "country",
			"filter_1_operator":   "equal",
			"filter_1_value_type": "dynamic",
			"filter_1_value":      "selected_country",
			"root_cause_dim_1":    "region",
			"root_cause_dim_2":    "client",
		},
		{
			"kpi_id":              "performed",
			"kpi_name":            "Performed Interventions",
			"source_table":        "interventions",
			"aggregation_type":    "count",
			"filter_1_field":      "status",
			"filter_1_operator":   "equal",
			"filter_1_value":      "Done",
			"filter_2_field":      "week",
			"filter_2_operator":   "equal",
			"filter_2_value_type": "dynamic",
			"filter_2_value":      "selected_week",
			"root_cause_dim_1":    "region",
		},
		{
			"kpi_id":              "planned",
			"kpi_name":            "Planned Interventions",
			"source_table":        "interventions",
			"aggregation_type":    "count",
			"filter_1_field":      "week",
			"filter_1_operator":   "equal",
			"filter_1_value_type": "dynamic",
			"filter_1_value":      "selected_week",
		},
		{
			"kpi_id":           "completion_rate",
			"kpi_name":         "Completion Rate",
			"aggregation_type": "ratio",
			"measure_field":    "performed / planned",
		},
		{
			"kpi_id":           "avg_amount",
			"kpi_name":         "Average Amount",
			"source_table":     "invoices",
			"aggregation_type": "average",
			"measure_field":    "amount",
		},
	})

	stub := &tableStub{tables: map[string][]model.Row{
		"invoices": {
			{"country": "France", "region": "A", "client": "acme", "amount": "10", "issued_at": "2025-10-01"},
			{"country": "France", "region": "A", "client": "beta", "amount": "20", "issued_at": "2025-10-08"},
			{"country": "France", "region": "B", "client": "acme", "amount": "5", "issued_at": "2025-10-15"},
			{"country": "Spain", "region": "C", "client": "acme", "amount": "100", "issued_at": "2025-10-01"},
		},
		"interventions": {
			{"week": "2025_W40", "status": "Done", "region": "A"},
			{"week": "2025_W40", "status": "Done", "region": "B"},
			{"week": "2025_W40", "status": "Cancelled", "region": "A"},
			{"week": "2025_W40", "status": "Planned", "region": ""},
			{"week": "2025_W41", "status": "Done", "region": "A"},
		},
	}}

	return New(cat, stub)
}

func TestCompute_Sum(t *testing.T) {
	eng := testEngine(t)

	res, err := eng.Compute(context.Background(), "total_cost", model.FilterContext{Country: "FR"})
	if err != nil {
		t.Fatalf("Compute() returned error: %v", err)
	}
	if !res.Defined {
		t.Fatal("sum over matching rows should be defined")
	}
	if res.Value != 35 {
		t.Errorf("Value = %v, want 35", res.Value)
	}
	if res.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", res.RecordCount)
	}
	if res.Aggregation != "sum" {
		t.Errorf("Aggregation = %q, want sum", res.Aggregation)
	}
}

func TestCompute_CountryAlias(t *testing.T) {
	eng := testEngine(t)

	// FR resolves to France through the default alias table; the raw data
	// value also works unchanged.
	for _, country := range []string{"FR", "France"} {
		res, err := eng.Compute(context.Background(), "total_cost", model.FilterContext{Country: country})
		if err != nil {
			t.Fatalf("Compute(%s) returned error: %v", country, err)
		}
		if res.Value != 35 {
			t.Errorf("Compute(%s) = %v, want 35", country, res.Value)
		}
	}
}

func TestCompute_UnsetDynamicFilterSkipped(t *testing.T) {
	eng := testEngine(t)

	// No country selected: the dynamic filter drops out and every row counts.
	res, err := eng.Compute(context.Background(), "total_cost", model.FilterContext{})
	if err != nil {
		t.Fatalf("Compute() returned error: %v", err)
	}
	if res.Value != 135 {
		t.Errorf("Value = %v, want 135", res.Value)
	}
	if res.RecordCount != 4 {
		t.Errorf("RecordCount = %d, want 4", res.RecordCount)
	}
}

func TestCompute_TimeWindow(t *testing.T) {
	eng := testEngine(t)

	window := &model.TimeWindow{
		Start: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC),
	}
	res, err := eng.Compute(context.Background(), "total_cost", model.FilterContext{Country: "FR", Window: window})
	if err != nil {
		t.Fatalf("Compute() returned error: %v", err)
	}
	if res.Value != 30 {
		t.Errorf("Value = %v, want 30 (row outside window excluded)", res.Value)
	}
	if res.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", res.RecordCount)
	}
}

func TestCompute_Ratio(t *testing.T) {
	eng := testEngine(t)

	res, err := eng.Compute(context.Background(), "completion_rate", model.FilterContext{Week: "2025_W40"})
	if err != nil {
		t.Fatalf("Compute() returned error: %v", err)
	}
	if !res.Defined {
		t.Fatal("ratio with nonzero denominator should be defined")
	}
	// 2 Done out of 4 rows in week 40, as a percentage.
	if res.Value != 50 {
		t.Errorf("Value = %v, want 50", res.Value)
	}
	if res.Numerator == nil || res.Numerator.Value != 2 {
		t.Errorf("Numerator = %+v, want value 2", res.Numerator)
	}
	if res.Denominator == nil || res.Denominator.Value != 4 {
		t.Errorf("Denominator = %+v, want value 4", res.Denominator)
	}
}

func TestCompute_RatioEmptySubset(t *testing.T) {
	eng := testEngine(t)

	// A week with no data: denominator count is 0, so the ratio is
	// undefined but NOT an error.
	res, err := eng.Compute(context.Background(), "completion_rate", model.FilterContext{Week: "2025_W99"})
	if err != nil {
		t.Fatalf("Compute() returned error: %v", err)
	}
	if res.Defined {
		t.Error("ratio with zero denominator should be undefined")
	}
	if res.RecordCount != 0 {
		t.Errorf("RecordCount = %d, want 0", res.RecordCount)
	}
}

func TestCompute_EmptySubsetPerAggregation(t *testing.T) {
	cat := mustCatalogue(t, []model.Row{
		{"kpi_id": "c", "kpi_name": "C", "source_table": "t", "aggregation_type": "count",
			"filter_1_field": "x", "filter_1_operator": "equal", "filter_1_value": "nope"},
		{"kpi_id": "s", "kpi_name": "S", "source_table": "t", "aggregation_type": "sum", "measure_field": "v",
			"filter_1_field": "x", "filter_1_operator": "equal", "filter_1_value": "nope"},
		{"kpi_id": "a", "kpi_name": "A", "source_table": "t", "aggregation_type": "average", "measure_field": "v",
			"filter_1_field": "x", "filter_1_operator": "equal", "filter_1_value": "nope"},
		{"kpi_id": "m", "kpi_name": "M", "source_table": "t", "aggregation_type": "min", "measure_field": "v",
			"filter_1_field": "x", "filter_1_operator": "equal", "filter_1_value": "nope"},
	})
	eng := New(cat, &tableStub{tables: map[string][]model.Row{
		"t": {{"x": "yes", "v": "10"}},
	}})

	tests := []struct {
		kpi     string
		defined bool
	}{
		{"c", true},  // empty count is 0, still meaningful
		{"s", true},  // empty sum is 0, still meaningful
		{"a", false}, // average of nothing
		{"m", false}, // min of nothing
	}
	for _, tt := range tests {
		t.Run(tt.kpi, func(t *testing.T) {
			res, err := eng.Compute(context.Background(), tt.kpi, model.FilterContext{})
			if err != nil {
				t.Fatalf("Compute() returned error: %v", err)
			}
			if res.Defined != tt.defined {
				t.Errorf("Defined = %v, want %v", res.Defined, tt.defined)
			}
			if res.Value != 0 {
				t.Errorf("Value = %v, want 0", res.Value)
			}
		})
	}
}

func TestCompute_UnknownKPI(t *testing.T) {
	eng := testEngine(t)

	_, err := eng.Compute(context.Background(), "no_such_kpi", model.FilterContext{})
	if !errors.Is(err, ErrUnknownKPI) {
		t.Errorf("error = %v, want ErrUnknownKPI", err)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	eng := testEngine(t)
	fc := model.FilterContext{Country: "FR"}

	first, err := eng.Compute(context.Background(), "total_cost", fc)
	if err != nil {
		t.Fatalf("Compute() returned error: %v", err)
	}
	second, err := eng.Compute(context.Background(), "total_cost", fc)
	if err != nil {
		t.Fatalf("Compute() returned error: %v", err)
	}
	if first.Value != second.Value || first.RecordCount != second.RecordCount || first.Defined != second.Defined {
		t.Errorf("repeated Compute diverged: %+v vs %+v", first, second)
	}
}

func TestComputeAll(t *testing.T) {
	eng := testEngine(t)

	results, errs := eng.ComputeAll(context.Background(), model.FilterContext{})
	if len(errs) != 0 {
		t.Fatalf("ComputeAll() errors: %v", errs)
	}
	if len(results) != eng.Catalogue().Len() {
		t.Fatalf("ComputeAll() returned %d results, want %d", len(results), eng.Catalogue().Len())
	}
	// Catalogue order is preserved.
	if results[0].KPIID != "total_cost" || results[3].KPIID != "completion_rate" {
		t.Errorf("results out of catalogue order: %s, %s", results[0].KPIID, results[3].KPIID)
	}
}

func TestComputeAll_PartialFailure(t *testing.T) {
	cat := mustCatalogue(t, []model.Row{
		{"kpi_id": "ok", "kpi_name": "OK", "source_table": "t", "aggregation_type": "count"},
		{"kpi_id": "broken", "kpi_name": "Broken", "source_table": "missing", "aggregation_type": "count"},
	})
	eng := New(cat, &tableStub{tables: map[string][]model.Row{
		"t": {{"x": "1"}},
	}})

	results, errs := eng.ComputeAll(context.Background(), model.FilterContext{})
	if len(results) != 1 || results[0].KPIID != "ok" {
		t.Errorf("results = %+v, want the one healthy KPI", results)
	}
	if len(errs) != 1 {
		t.Errorf("errs = %v, want 1 entry", errs)
	}
}

func TestWeeks(t *testing.T) {
	eng := testEngine(t)

	weeks, err := eng.Weeks(context.Background(), "interventions")
	if err != nil {
		t.Fatalf("Weeks() returned error: %v", err)
	}
	if len(weeks) != 2 || weeks[0] != "2025_W40" || weeks[1] != "2025_W41" {
		t.Errorf("Weeks() = %v, want [2025_W40 2025_W41]", weeks)
	}
}

func TestCountries(t *testing.T) {
	eng := testEngine(t)

	countries, err := eng.Countries(context.Background(), "invoices")
	if err != nil {
		t.Fatalf("Countries() returned error: %v", err)
	}
	if len(countries) != 2 || countries[0] != "France" || countries[1] != "Spain" {
		t.Errorf("Countries() = %v, want [France Spain]", countries)
	}
}
