package model

import "time"

// Unspecified is the bucket label for rows whose breakdown dimension value
// is empty. Such rows are grouped explicitly rather than dropped.
const Unspecified = "Unspecified"

// TimeWindow represents an inclusive date range used to narrow records.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window (inclusive bounds).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Duration returns the length of the window.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// FilterContext narrows which records contribute to a computation.
// It is built per request and never persisted.
type FilterContext struct {
	// Country is a display code (e.g. "FR") or a data value (e.g. "France").
	// Codes are resolved through the engine's alias table before matching.
	Country string `json:"country,omitempty"`

	// Week is a week identifier as stored in the data (e.g. "2025_W48").
	Week string `json:"week,omitempty"`

	// Client optionally restricts to a single client.
	Client string `json:"client,omitempty"`

	// Window optionally restricts by the definition's date field.
	Window *TimeWindow `json:"window,omitempty"`
}

// KPIResult is the computed value of one KPI under a FilterContext.
// Results are produced fresh per request; nothing is cached across contexts.
type KPIResult struct {
	// KPIID is the catalogue identifier of the computed KPI.
	KPIID string `json:"kpi_id"`

	// Name is the display name from the catalogue.
	Name string `json:"name"`

	// Value is the computed aggregate. Meaningless when Defined is false.
	Value float64 `json:"value"`

	// Defined is false when the value cannot be stated: a ratio with a zero
	// or undefined denominator, or average/min/max over no numeric cells.
	// An undefined result is a valid empty state, not an error.
	Defined bool `json:"defined"`

	// Aggregation is the aggregation kind that produced the value.
	Aggregation string `json:"aggregation"`

	// SourceTable is the table the records were read from. Empty for ratio
	// KPIs, which read through their component KPIs.
	SourceTable string `json:"source_table,omitempty"`

	// RecordCount is the number of records contributing to the value.
	RecordCount int `json:"record_count"`

	// Numerator and Denominator track the component values of a ratio KPI.
	Numerator   *RatioPart `json:"numerator,omitempty"`
	Denominator *RatioPart `json:"denominator,omitempty"`

	// Context echoes the filter context the result was computed under.
	Context FilterContext `json:"context"`
}

// RatioPart records one side of a ratio computation.
type RatioPart struct {
	KPIID string  `json:"kpi_id"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// BreakdownResult decomposes a KPI's value by one categorical dimension.
type BreakdownResult struct {
	KPIID     string `json:"kpi_id"`
	Name      string `json:"name"`
	Dimension string `json:"dimension"`

	// Parent is the KPI result the breakdown explains.
	Parent *KPIResult `json:"parent"`

	// Groups is ordered descending by sub-aggregate value; ties break on the
	// dimension value's lexical order. Undefined groups sort last.
	Groups []BreakdownGroup `json:"groups"`
}

// BreakdownGroup is one partition of a breakdown.
type BreakdownGroup struct {
	// Value is the dimension value, or Unspecified for empty cells.
	Value string `json:"value"`

	// Aggregate is the KPI's aggregation recomputed over this partition
	// alone. Ratio and average groups are computed independently; they are
	// never derived by slicing the parent value.
	Aggregate float64 `json:"aggregate"`

	// Defined mirrors KPIResult.Defined for this partition.
	Defined bool `json:"defined"`

	// Share is the group's contribution: aggregate/parent for sum and count
	// (shares total 1 across groups), record proportion otherwise.
	Share float64 `json:"share"`

	// Records is the partition's record count.
	Records int `json:"records"`
}

// Digest is a scheduled snapshot of every catalogue KPI for one country and
// week, delivered through a notifier.
type Digest struct {
	ReqID       string       `json:"req_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	Country     string       `json:"country"`
	Week        string       `json:"week"`
	Results     []*KPIResult `json:"results"`
}
