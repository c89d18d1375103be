// Package insight performs diagnostic analysis of KPI time series: period
// comparisons, correlation with sibling KPIs, change-point detection and
// rule-based root-cause hypotheses.
package insight

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// trendThreshold is the relative change below which a series counts as stable.
const trendThreshold = 0.05

// Frame is a date-aligned set of KPI series. Row i of every series belongs
// to Dates[i].
type Frame struct {
	Dates  []time.Time
	Series map[string][]float64
}

// FrameFromRows builds a Frame from a wide table (one date column, one
// column per KPI). Rows with an unparseable date are skipped; cells that
// fail numeric parsing become NaN and are ignored by the statistics.
func FrameFromRows(rows []model.Row, dateColumn string) *Frame {
	f := &Frame{Series: make(map[string][]float64)}

	var kpiCols []string
	for _, col := range model.Columns(rows) {
		if col != dateColumn {
			kpiCols = append(kpiCols, col)
		}
	}
	sort.Strings(kpiCols)

	for _, row := range rows {
		t, ok := row.Date(dateColumn)
		if !ok {
			continue
		}
		f.Dates = append(f.Dates, t)
		for _, col := range kpiCols {
			v, ok := row.Float(col)
			if !ok {
				v = math.NaN()
			}
			f.Series[col] = append(f.Series[col], v)
		}
	}
	return f
}

// Window returns the subset of the frame inside w.
func (f *Frame) Window(w model.TimeWindow) *Frame {
	out := &Frame{Series: make(map[string][]float64, len(f.Series))}
	for i, t := range f.Dates {
		if !w.Contains(t) {
			continue
		}
		out.Dates = append(out.Dates, t)
		for name, values := range f.Series {
			out.Series[name] = append(out.Series[name], values[i])
		}
	}
	return out
}

// PeriodStats summarizes one KPI over one period.
type PeriodStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Total  float64 `json:"total"`
	Count  int     `json:"count"`
}

// Stats computes summary statistics, ignoring NaN cells.
func Stats(values []float64) PeriodStats {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return PeriodStats{}
	}

	s := PeriodStats{Count: len(clean), Min: clean[0], Max: clean[0]}
	for _, v := range clean {
		s.Total += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = s.Total / float64(len(clean))

	var sq float64
	for _, v := range clean {
		d := v - s.Mean
		sq += d * d
	}
	if len(clean) > 1 {
		s.Std = math.Sqrt(sq / float64(len(clean)-1))
	}

	sorted := append([]float64(nil), clean...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		s.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		s.Median = sorted[mid]
	}
	return s
}

// PercentChange returns the relative change from old to new. A zero base
// yields +Inf for a nonzero new value and 0 otherwise.
func PercentChange(oldValue, newValue float64) float64 {
	if oldValue == 0 {
		if newValue == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return (newValue - oldValue) / oldValue
}

// Trend classifies a relative change as increasing, decreasing or stable.
func Trend(change float64) string {
	switch {
	case math.Abs(change) < trendThreshold:
		return "stable"
	case change > 0:
		return "increasing"
	default:
		return "decreasing"
	}
}

// Correlation pairs a sibling KPI with its Pearson coefficient against the
// analyzed KPI.
type Correlation struct {
	KPI         string  `json:"kpi"`
	Coefficient float64 `json:"coefficient"`
}

// Comparison holds the result of comparing one KPI across two periods.
type Comparison struct {
	KPI     string `json:"kpi"`
	Period1 Period `json:"period1"`
	Period2 Period `json:"period2"`

	MeanChange          float64 `json:"mean_change"`
	TotalChange         float64 `json:"total_change"`
	AbsoluteMeanChange  float64 `json:"absolute_mean_change"`
	AbsoluteTotalChange float64 `json:"absolute_total_change"`

	Trend        string        `json:"trend"`
	Correlations []Correlation `json:"correlations"`
}

// Period is one side of a comparison.
type Period struct {
	Window model.TimeWindow `json:"window"`
	Stats  PeriodStats      `json:"stats"`
}

// ComparePeriods compares a KPI between two time windows and correlates it
// against the frame's other series over the second window.
func ComparePeriods(f *Frame, kpi string, w1, w2 model.TimeWindow) (*Comparison, error) {
	if _, ok := f.Series[kpi]; !ok {
		return nil, fmt.Errorf("series %q not in frame", kpi)
	}

	f1 := f.Window(w1)
	f2 := f.Window(w2)
	s1 := Stats(f1.Series[kpi])
	s2 := Stats(f2.Series[kpi])

	return &Comparison{
		KPI:                 kpi,
		Period1:             Period{Window: w1, Stats: s1},
		Period2:             Period{Window: w2, Stats: s2},
		MeanChange:          PercentChange(s1.Mean, s2.Mean),
		TotalChange:         PercentChange(s1.Total, s2.Total),
		AbsoluteMeanChange:  s2.Mean - s1.Mean,
		AbsoluteTotalChange: s2.Total - s1.Total,
		Trend:               Trend(PercentChange(s1.Mean, s2.Mean)),
		Correlations:        Correlations(f2, kpi, 5),
	}, nil
}

// Correlations ranks the frame's other series by Pearson correlation with
// the given KPI, strongest first, keeping the top n.
func Correlations(f *Frame, kpi string, n int) []Correlation {
	target, ok := f.Series[kpi]
	if !ok {
		return nil
	}

	var out []Correlation
	for name, values := range f.Series {
		if name == kpi {
			continue
		}
		if c, ok := pearson(target, values); ok {
			out = append(out, Correlation{KPI: name, Coefficient: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Coefficient != out[j].Coefficient {
			return out[i].Coefficient > out[j].Coefficient
		}
		return out[i].KPI < out[j].KPI
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var xs, ys []float64
	for i := 0; i < n; i++ {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		xs = append(xs, a[i])
		ys = append(ys, b[i])
	}
	if len(xs) < 2 {
		return 0, false
	}

	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= float64(len(xs))
	meanY /= float64(len(ys))

	var cov, varX, varY float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}

// ChangePoints detects dates where a KPI deviates sharply from its recent
// rolling mean (z-score above 2.5 over a 7-sample window). At most five
// points are returned.
func ChangePoints(dates []time.Time, values []float64) []time.Time {
	const (
		window    = 7
		zCritical = 2.5
		maxPoints = 5
	)

	var points []time.Time
	for i := window; i < len(values) && i < len(dates); i++ {
		if math.IsNaN(values[i]) {
			continue
		}
		s := Stats(values[i-window : i])
		if s.Count < 2 {
			continue
		}
		z := math.Abs(values[i]-s.Mean) / (s.Std + 1e-10)
		if z > zCritical {
			points = append(points, dates[i])
			if len(points) == maxPoints {
				break
			}
		}
	}
	return points
}

// Insights is the human-readable reading of a comparison.
type Insights struct {
	Summary     string `json:"summary"`
	Variability string `json:"variability"`
	Correlation string `json:"correlation"`
	Hypothesis  string `json:"root_cause_hypothesis"`
	Trend       string `json:"trend"`
}

// Generate renders a comparison into insight sentences.
func Generate(c *Comparison) Insights {
	pct := c.MeanChange * 100
	direction := "increased"
	if pct < 0 {
		direction = "decreased"
	}

	out := Insights{
		Trend: c.Trend,
		Summary: fmt.Sprintf("The %s %s by %.1f%%, from an average of %.1f to %.1f.",
			c.KPI, direction, math.Abs(pct), c.Period1.Stats.Mean, c.Period2.Stats.Mean),
	}

	variability := PercentChange(c.Period1.Stats.Std, c.Period2.Stats.Std)
	if math.Abs(variability) > 0.2 {
		word := "more volatile"
		if variability < 0 {
			word = "more stable"
		}
		out.Variability = fmt.Sprintf("The metric has become %s, with standard deviation changing from %.1f to %.1f.",
			word, c.Period1.Stats.Std, c.Period2.Stats.Std)
	} else {
		out.Variability = "Variability remained relatively stable between periods."
	}

	if len(c.Correlations) > 0 {
		top := c.Correlations[0]
		kind := "positive"
		if top.Coefficient < 0 {
			kind = "negative"
		}
		out.Correlation = fmt.Sprintf("The %s shows a strong %s correlation (%.2f) with %s.",
			c.KPI, kind, top.Coefficient, top.KPI)
	} else {
		out.Correlation = "No significant correlations detected with other KPIs."
	}

	out.Hypothesis = hypothesis(c)
	return out
}

// hypothesis builds a rule-based root-cause reading of the change.
func hypothesis(c *Comparison) string {
	var parts []string

	pct := math.Abs(c.MeanChange * 100)
	switch {
	case pct > 50:
		parts = append(parts, "The significant change magnitude suggests a major operational shift or external factor.")
	case pct > 20:
		parts = append(parts, "The moderate change indicates potential process adjustments or efficiency improvements.")
	default:
		parts = append(parts, "The minor change could be due to normal operational variations.")
	}

	if len(c.Correlations) > 0 {
		top := c.Correlations[0]
		if math.Abs(top.Coefficient) > 0.7 {
			parts = append(parts, fmt.Sprintf(
				"Strong correlation with %s suggests these metrics are interconnected; changes in one likely affect the other.", top.KPI))
		}
	}

	badWhenRising := strings.Contains(c.KPI, "Cost") ||
		strings.Contains(c.KPI, "Downtime") ||
		strings.Contains(c.KPI, "Failures")

	switch c.Trend {
	case "increasing":
		if badWhenRising {
			parts = append(parts, "The increase may indicate deteriorating performance or efficiency issues requiring attention.")
		} else {
			parts = append(parts, "The upward trend suggests improving performance or increased activity levels.")
		}
	case "decreasing":
		if badWhenRising {
			parts = append(parts, "The decrease indicates positive improvements in efficiency or reliability.")
		} else {
			parts = append(parts, "The decline may signal reduced capacity, resource constraints, or declining activity.")
		}
	}

	return strings.Join(parts, " ")
}
