package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

func TestBreakdown_Sum(t *testing.T) {
	eng := testEngine(t)

	res, err := eng.Breakdown(context.Background(), "total_cost", model.FilterContext{Country: "FR"}, "region")
	if err != nil {
		t.Fatalf("Breakdown() returned error: %v", err)
	}
	if res.Parent.Value != 35 {
		t.Fatalf("parent value = %v, want 35", res.Parent.Value)
	}
	if len(res.Groups) != 2 {
		t.Fatalf("len(Groups) = %d, want 2", len(res.Groups))
	}

	// Descending by sub-aggregate: A (10+20=30) before B (5).
	a, b := res.Groups[0], res.Groups[1]
	if a.Value != "A" || a.Aggregate != 30 {
		t.Errorf("group 0 = %+v, want A/30", a)
	}
	if b.Value != "B" || b.Aggregate != 5 {
		t.Errorf("group 1 = %+v, want B/5", b)
	}
	if math.Abs(a.Share-30.0/35.0) > 1e-9 {
		t.Errorf("A share = %v, want %v", a.Share, 30.0/35.0)
	}
	if math.Abs(b.Share-5.0/35.0) > 1e-9 {
		t.Errorf("B share = %v, want %v", b.Share, 5.0/35.0)
	}
	if math.Abs(a.Share+b.Share-1) > 1e-9 {
		t.Errorf("sum shares should total 1, got %v", a.Share+b.Share)
	}
}

func TestBreakdown_InvalidDimension(t *testing.T) {
	eng := testEngine(t)

	_, err := eng.Breakdown(context.Background(), "total_cost", model.FilterContext{}, "technician")
	if !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("error = %v, want ErrInvalidDimension", err)
	}
}

func TestBreakdown_UnknownKPI(t *testing.T) {
	eng := testEngine(t)

	_, err := eng.Breakdown(context.Background(), "no_such_kpi", model.FilterContext{}, "region")
	if !errors.Is(err, ErrUnknownKPI) {
		t.Errorf("error = %v, want ErrUnknownKPI", err)
	}
}

func TestBreakdown_UnspecifiedBucket(t *testing.T) {
	cat := mustCatalogue(t, []model.Row{
		{"kpi_id": "n", "kpi_name": "N", "source_table": "t", "aggregation_type": "count",
			"root_cause_dim_1": "cluster"},
	})
	eng := New(cat, &tableStub{tables: map[string][]model.Row{
		"t": {
			{"cluster": "HVAC"},
			{"cluster": ""},
			{"cluster": "   "},
			{"other": "x"},
		},
	}})

	res, err := eng.Breakdown(context.Background(), "n", model.FilterContext{}, "cluster")
	if err != nil {
		t.Fatalf("Breakdown() returned error: %v", err)
	}
	if len(res.Groups) != 2 {
		t.Fatalf("len(Groups) = %d, want 2", len(res.Groups))
	}
	// Empty, blank and missing cells collapse into one bucket of 3.
	if res.Groups[0].Value != model.Unspecified || res.Groups[0].Aggregate != 3 {
		t.Errorf("group 0 = %+v, want Unspecified/3", res.Groups[0])
	}
	if res.Groups[1].Value != "HVAC" || res.Groups[1].Aggregate != 1 {
		t.Errorf("group 1 = %+v, want HVAC/1", res.Groups[1])
	}
}

func TestBreakdown_Ratio(t *testing.T) {
	eng := testEngine(t)

	res, err := eng.Breakdown(context.Background(), "completion_rate", model.FilterContext{Week: "2025_W40"}, "region")
	if err != nil {
		t.Fatalf("Breakdown() returned error: %v", err)
	}

	// Week 40 partitions: A has 1 Done of 2 rows (50%), B has 1 Done of 1
	// row (100%), Unspecified has 0 Done of 1 row (0%).
	if len(res.Groups) != 3 {
		t.Fatalf("len(Groups) = %d, want 3", len(res.Groups))
	}
	want := []struct {
		value     string
		aggregate float64
	}{
		{"B", 100},
		{"A", 50},
		{model.Unspecified, 0},
	}
	for i, w := range want {
		g := res.Groups[i]
		if g.Value != w.value || g.Aggregate != w.aggregate {
			t.Errorf("group %d = %s/%v, want %s/%v", i, g.Value, g.Aggregate, w.value, w.aggregate)
		}
		if !g.Defined {
			t.Errorf("group %d should be defined", i)
		}
	}
}

func TestBreakdown_RatioUndefinedGroupSortsLast(t *testing.T) {
	cat := mustCatalogue(t, []model.Row{
		{"kpi_id": "done", "kpi_name": "Done", "source_table": "t", "aggregation_type": "count",
			"filter_1_field": "status", "filter_1_operator": "equal", "filter_1_value": "Done",
			"root_cause_dim_1": "region"},
		{"kpi_id": "planned", "kpi_name": "Planned", "source_table": "t", "aggregation_type": "count",
			"filter_1_field": "status", "filter_1_operator": "equal", "filter_1_value": "Planned"},
		{"kpi_id": "rate", "kpi_name": "Rate", "aggregation_type": "ratio",
			"measure_field": "done / planned"},
	})
	eng := New(cat, &tableStub{tables: map[string][]model.Row{
		"t": {
			{"region": "A", "status": "Done"},
			{"region": "A", "status": "Planned"},
			{"region": "B", "status": "Done"}, // no Planned rows in B
		},
	}})

	res, err := eng.Breakdown(context.Background(), "rate", model.FilterContext{}, "region")
	if err != nil {
		t.Fatalf("Breakdown() returned error: %v", err)
	}
	if len(res.Groups) != 2 {
		t.Fatalf("len(Groups) = %d, want 2", len(res.Groups))
	}
	if res.Groups[0].Value != "A" || !res.Groups[0].Defined {
		t.Errorf("group 0 = %+v, want defined A", res.Groups[0])
	}
	last := res.Groups[1]
	if last.Value != "B" || last.Defined {
		t.Errorf("zero-denominator group = %+v, want undefined B last", last)
	}
}

func TestBreakdown_SortDeterminism(t *testing.T) {
	cat := mustCatalogue(t, []model.Row{
		{"kpi_id": "n", "kpi_name": "N", "source_table": "t", "aggregation_type": "count",
			"root_cause_dim_1": "region"},
	})
	eng := New(cat, &tableStub{tables: map[string][]model.Row{
		"t": {
			{"region": "zeta"},
			{"region": "alpha"},
			{"region": "mid"},
			{"region": "mid"},
		},
	}})

	// alpha and zeta tie at 1; the tie breaks lexically, every time.
	for i := 0; i < 5; i++ {
		res, err := eng.Breakdown(context.Background(), "n", model.FilterContext{}, "region")
		if err != nil {
			t.Fatalf("Breakdown() returned error: %v", err)
		}
		got := []string{res.Groups[0].Value, res.Groups[1].Value, res.Groups[2].Value}
		if got[0] != "mid" || got[1] != "alpha" || got[2] != "zeta" {
			t.Fatalf("run %d: order = %v, want [mid alpha zeta]", i, got)
		}
	}
}

func TestBreakdown_AverageShareIsRecordProportion(t *testing.T) {
	cat := mustCatalogue(t, []model.Row{
		{"kpi_id": "avg_d", "kpi_name": "Avg Duration", "source_table": "t", "aggregation_type": "average",
			"measure_field": "duration", "root_cause_dim_1": "priority"},
	})
	eng := New(cat, &tableStub{tables: map[string][]model.Row{
		"t": {
			{"priority": "High", "duration": "60"},
			{"priority": "High", "duration": "30"},
			{"priority": "High", "duration": "30"},
			{"priority": "Low", "duration": "10"},
		},
	}})

	res, err := eng.Breakdown(context.Background(), "avg_d", model.FilterContext{}, "priority")
	if err != nil {
		t.Fatalf("Breakdown() returned error: %v", err)
	}
	high := res.Groups[0]
	if high.Value != "High" || high.Aggregate != 40 {
		t.Fatalf("group 0 = %+v, want High at 40", high)
	}
	if high.Share != 0.75 {
		t.Errorf("High share = %v, want 0.75 (3 of 4 records)", high.Share)
	}
}
