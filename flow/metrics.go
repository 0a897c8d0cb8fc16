package flow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Canonical metric names. Units are fixed per metric; extractors normalize
// whatever the tool printed into these units.
const (
	MetricCellCount        = "cell_count"              // count
	MetricAreaUm2          = "area_um2"                // µm²
	MetricDieAreaUm2       = "die_area_um2"            // µm²
	MetricUtilizationPct   = "utilization_pct"         // percent
	MetricWNS              = "worst_negative_slack_ns" // ns
	MetricTNS              = "total_negative_slack_ns" // ns
	MetricWorstHoldSlack   = "worst_hold_slack_ns"     // ns
	MetricDensityOverflow  = "density_overflow_pct"    // percent
	MetricHPWLUm           = "hpwl_um"                 // µm
	MetricSkewPs           = "skew_ps"                 // ps
	MetricRoutingOverflow  = "routing_overflow_pct"    // percent
	MetricWirelengthUm     = "wirelength_um"           // µm
	MetricViaCount         = "via_count"               // count
	MetricDRCViolations    = "drc_violation_count"     // count
	MetricAntennaViolation = "antenna_violation_count" // count
	MetricLVSStatus        = "lvs_status"              // LVSStatus
)

// LVSStatus is the enumerated result of a layout-versus-schematic check.
type LVSStatus string

const (
	LVSPass    LVSStatus = "PASS"
	LVSFail    LVSStatus = "FAIL"
	LVSUnknown LVSStatus = "UNKNOWN"
)

// Value is a single metric value: either a number or an enumerated token.
type Value struct {
	Number float64
	Enum   string
	IsEnum bool
}

// Num wraps a numeric metric value.
func Num(v float64) Value { return Value{Number: v} }

// Enum wraps an enumerated metric value.
func Enum(s string) Value { return Value{Enum: s, IsEnum: true} }

func (v Value) String() string {
	if v.IsEnum {
		return v.Enum
	}
	return fmt.Sprintf("%g", v.Number)
}

// MarshalJSON renders numbers as JSON numbers and enums as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsEnum {
		return json.Marshal(v.Enum)
	}
	return json.Marshal(v.Number)
}

// Anomaly records a parse-level problem in a report artifact: a missing
// expected field, a line whose value could not be parsed, or an unreadable
// artifact. Line is 1-based; 0 means the anomaly is not tied to a line.
type Anomaly struct {
	Line   int    `json:"line,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (a Anomaly) String() string {
	switch {
	case a.Line > 0 && a.Field != "":
		return fmt.Sprintf("line %d: %s: %s", a.Line, a.Field, a.Reason)
	case a.Field != "":
		return fmt.Sprintf("%s: %s", a.Field, a.Reason)
	default:
		return a.Reason
	}
}

// MetricRecord is the structured result of extracting one stage's report.
// A metric absent from the record was not found in the report; it is never
// defaulted to zero. Immutable once created.
type MetricRecord struct {
	stage     Stage
	values    map[string]Value
	anomalies []Anomaly
}

// NewMetricRecord creates a MetricRecord. The inputs are copied.
func NewMetricRecord(stage Stage, values map[string]Value, anomalies []Anomaly) MetricRecord {
	vals := make(map[string]Value, len(values))
	for k, v := range values {
		vals[k] = v
	}
	var anoms []Anomaly
	if len(anomalies) > 0 {
		anoms = make([]Anomaly, len(anomalies))
		copy(anoms, anomalies)
	}
	return MetricRecord{stage: stage, values: vals, anomalies: anoms}
}

// Stage returns the stage that produced the record.
func (r MetricRecord) Stage() Stage { return r.stage }

// Get returns the raw value for name and whether it was set.
func (r MetricRecord) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Number returns a numeric metric. ok is false when the metric is unset or
// enumerated.
func (r MetricRecord) Number(name string) (float64, bool) {
	v, ok := r.values[name]
	if !ok || v.IsEnum {
		return 0, false
	}
	return v.Number, true
}

// Enum returns an enumerated metric. ok is false when the metric is unset or
// numeric.
func (r MetricRecord) Enum(name string) (string, bool) {
	v, ok := r.values[name]
	if !ok || !v.IsEnum {
		return "", false
	}
	return v.Enum, true
}

// Names returns the set metric names in sorted order.
func (r MetricRecord) Names() []string {
	names := make([]string, 0, len(r.values))
	for k := range r.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of set metrics.
func (r MetricRecord) Len() int { return len(r.values) }

// Anomalies returns a copy of the record's parse anomalies.
func (r MetricRecord) Anomalies() []Anomaly {
	out := make([]Anomaly, len(r.anomalies))
	copy(out, r.anomalies)
	return out
}

// Complete reports whether the record carries no parse anomalies.
func (r MetricRecord) Complete() bool { return len(r.anomalies) == 0 }

type metricRecordJSON struct {
	Stage     Stage            `json:"stage"`
	Metrics   map[string]Value `json:"metrics"`
	Anomalies []Anomaly        `json:"anomalies,omitempty"`
}

// MarshalJSON exposes the record for audit summaries.
func (r MetricRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricRecordJSON{Stage: r.stage, Metrics: r.values, Anomalies: r.anomalies})
}
