package source

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// MockSource is a deterministic, offline backend used for demo mode and
// tests. The same seed always produces the same tables, so computed KPI
// values are reproducible across runs.
type MockSource struct {
	tables map[string][]model.Row
}

// mock table names.
const (
	mockInterventions = "interventions"
	mockCatalogue     = "kpi_catalogue"
	mockHistory       = "kpi_history"
)

var mockCountries = []string{"France", "Spain", "Germany", "Italy", "Portugal", "Netherlands", "Belgium", "United Kingdom"}

var mockClusters = []string{"HVAC", "Electrical", "Plumbing", "Elevators"}

var mockPriorities = []string{"Highest Priority", "High", "Medium", "Low"}

var mockClients = []string{"Acme Facilities", "Borealis Group", "Cantor Estates", "Delta Retail"}

// NewMock builds a MockSource with twelve weeks of intervention records,
// ninety days of KPI history and a default catalogue.
func NewMock(seed int64) *MockSource {
	rng := rand.New(rand.NewSource(seed))
	m := &MockSource{tables: make(map[string][]model.Row)}
	m.tables[mockInterventions] = generateInterventions(rng)
	m.tables[mockHistory] = generateHistory(rng)
	m.tables[mockCatalogue] = defaultCatalogueRows()
	return m
}

// FetchTable returns the generated rows for a table.
func (m *MockSource) FetchTable(ctx context.Context, name string) ([]model.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return rows, nil
}

// Tables lists the generated table names, sorted.
func (m *MockSource) Tables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for the mock backend.
func (m *MockSource) Close() error { return nil }

// Ping always succeeds for the mock backend.
func (m *MockSource) Ping(ctx context.Context) error { return ctx.Err() }

func generateInterventions(rng *rand.Rand) []model.Row {
	weekStart := time.Date(2025, 9, 29, 0, 0, 0, 0, time.UTC) // Monday of 2025_W40
	var rows []model.Row

	for w := 0; w < 12; w++ {
		week := fmt.Sprintf("2025_W%02d", 40+w)
		monday := weekStart.AddDate(0, 0, 7*w)

		for _, country := range mockCountries {
			n := 8 + rng.Intn(16)
			for i := 0; i < n; i++ {
				status := "Done"
				switch r := rng.Float64(); {
				case r < 0.15:
					status = "Cancelled"
				case r < 0.30:
					status = "Planned"
				}

				priority := mockPriorities[rng.Intn(len(mockPriorities))]
				cluster := mockClusters[rng.Intn(len(mockClusters))]
				// A slice of records carries no cluster, exercising the
				// Unspecified breakdown bucket.
				if rng.Float64() < 0.08 {
					cluster = ""
				}

				day := monday.AddDate(0, 0, rng.Intn(5))
				cost := 80 + rng.Float64()*420
				duration := 30 + rng.Intn(180)

				rows = append(rows, model.Row{
					"country":             country,
					"week":                week,
					"intervention_date":   day.Format("2006-01-02"),
					"client":              mockClients[rng.Intn(len(mockClients))],
					"status":              status,
					"priority":            priority,
					"maintenance_cluster": cluster,
					"technician":          fmt.Sprintf("tech-%02d", 1+rng.Intn(20)),
					"cost":                fmt.Sprintf("%.2f", cost),
					"duration_min":        fmt.Sprintf("%d", duration),
				})
			}
		}
	}
	return rows
}

// generateHistory produces a daily wide table (date + one column per KPI
// series) with trend, monthly seasonality and noise, for the insight
// analyzer.
func generateHistory(rng *rand.Rand) []model.Row {
	series := []string{
		"Performed Interventions",
		"Asset Availability",
		"Average Response Time",
		"Maintenance Cost",
		"Equipment Downtime",
		"First Time Fix Rate",
	}

	const days = 90
	base := make([]float64, len(series))
	trend := make([]float64, len(series))
	amplitude := make([]float64, len(series))
	noise := make([]float64, len(series))
	for i := range series {
		base[i] = 50 + rng.Float64()*450
		trend[i] = -0.5 + rng.Float64()
		amplitude[i] = rng.Float64() * 20
		noise[i] = 5 + rng.Float64()*10
	}

	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]model.Row, 0, days)
	for d := 0; d < days; d++ {
		row := model.Row{"date": start.AddDate(0, 0, d).Format("2006-01-02")}
		for i, name := range series {
			v := base[i] +
				trend[i]*float64(d) +
				amplitude[i]*math.Sin(2*math.Pi*float64(d)/30) +
				rng.NormFloat64()*noise[i]
			// A level shift halfway through one series gives the
			// change-point detector something to find.
			if i == 0 && d >= days/2 {
				v *= 0.8
			}
			if v < 0 {
				v = 0
			}
			row[name] = fmt.Sprintf("%.2f", v)
		}
		rows = append(rows, row)
	}
	return rows
}

// defaultCatalogueRows is the demo catalogue shipped with the mock backend.
func defaultCatalogueRows() []model.Row {
	count := func(id, name string, extra map[string]string) model.Row {
		row := model.Row{
			"kpi_id":              id,
			"kpi_name":            name,
			"source_table":        mockInterventions,
			"aggregation_type":    "count",
			"date_field":          "intervention_date",
			"filter_1_field":      "country",
			"filter_1_operator":   "equal",
			"filter_1_value_type": "dynamic",
			"filter_1_value":      "selected_country",
			"filter_2_field":      "week",
			"filter_2_operator":   "equal",
			"filter_2_value_type": "dynamic",
			"filter_2_value":      "selected_week",
			"root_cause_dim_1":    "priority",
			"root_cause_dim_2":    "maintenance_cluster",
			"root_cause_dim_3":    "client",
		}
		for k, v := range extra {
			row[k] = v
		}
		return row
	}

	return []model.Row{
		count("planned_interventions", "Planned Interventions", nil),
		count("performed_interventions", "Performed Interventions", map[string]string{
			"filter_3_field":    "status",
			"filter_3_operator": "equal",
			"filter_3_value":    "Done",
		}),
		count("cancelled_interventions", "Cancelled Interventions", map[string]string{
			"filter_3_field":    "status",
			"filter_3_operator": "equal",
			"filter_3_value":    "Cancelled",
		}),
		count("total_cost", "Total Maintenance Cost", map[string]string{
			"aggregation_type": "sum",
			"measure_field":    "cost",
		}),
		count("avg_duration", "Average Intervention Duration", map[string]string{
			"aggregation_type": "average",
			"measure_field":    "duration_min",
		}),
		{
			"kpi_id":           "completion_rate",
			"kpi_name":         "Intervention Completion Rate",
			"aggregation_type": "ratio",
			"measure_field":    "performed_interventions / planned_interventions",
		},
	}
}
