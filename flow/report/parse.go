package report

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowtune/flowtune/flow"
)

// aggregate chooses how repeated occurrences of a field combine.
type aggregate int

const (
	aggLast aggregate = iota // final occurrence wins (last iteration, top-level totals)
	aggMax
	aggMin
)

// fieldRule extracts one metric from lines matching key. key must capture the
// value token in group 1 and may capture the following token in group 2 so a
// detached unit ("120 ps") can be read.
type fieldRule struct {
	metric string
	key    *regexp.Regexp
	parse  func(tok, next string) (float64, error)
	agg    aggregate
}

// builder accumulates one stage's metrics and anomalies.
type builder struct {
	stage     flow.Stage
	values    map[string]flow.Value
	anomalies []flow.Anomaly
}

func newBuilder(stage flow.Stage) *builder {
	return &builder{stage: stage, values: make(map[string]flow.Value)}
}

func (b *builder) set(metric string, v float64, agg aggregate) {
	if prev, ok := b.values[metric]; ok && !prev.IsEnum {
		switch agg {
		case aggMax:
			v = math.Max(prev.Number, v)
		case aggMin:
			v = math.Min(prev.Number, v)
		}
	}
	b.values[metric] = flow.Num(v)
}

func (b *builder) setEnum(metric, v string) {
	b.values[metric] = flow.Enum(v)
}

func (b *builder) has(metric string) bool {
	_, ok := b.values[metric]
	return ok
}

func (b *builder) anomaly(line int, field, format string, args ...any) {
	b.anomalies = append(b.anomalies, flow.Anomaly{Line: line, Field: field, Reason: fmt.Sprintf(format, args...)})
}

// apply runs every rule against one line.
func (b *builder) apply(lineNo int, line string, rules []fieldRule) {
	for _, r := range rules {
		m := r.key.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		next := ""
		if len(m) > 2 {
			next = m[2]
		}
		v, err := r.parse(m[1], next)
		if err != nil {
			b.anomaly(lineNo, r.metric, "unparseable value %q: %v", m[1], err)
			continue
		}
		b.set(r.metric, v, r.agg)
	}
}

// finish flags every missing required field. When none of them was found the
// artifact is not recognizably this stage's report, so any incidental metrics
// are dropped and only anomalies remain.
func (b *builder) finish(required ...string) flow.MetricRecord {
	found := 0
	for _, f := range required {
		if b.has(f) {
			found++
			continue
		}
		b.anomaly(0, f, "expected field not found")
	}
	if found == 0 && len(required) > 0 {
		return flow.NewMetricRecord(b.stage, nil, b.anomalies)
	}
	return flow.NewMetricRecord(b.stage, b.values, b.anomalies)
}

// malformed returns an anomalies-only record for artifacts that are empty or
// binary, and false when text looks like a readable report.
func malformed(stage flow.Stage, text string) (flow.MetricRecord, bool) {
	switch {
	case strings.TrimSpace(text) == "":
		return flow.NewMetricRecord(stage, nil, []flow.Anomaly{{Reason: "report is empty"}}), true
	case strings.ContainsRune(text, 0):
		return flow.NewMetricRecord(stage, nil, []flow.Anomaly{{Reason: "report is not text"}}), true
	}
	return flow.MetricRecord{}, false
}

func lines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

var quantityRe = regexp.MustCompile(`^([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)(.*)$`)

// splitQuantity separates a numeric token from a unit glued to it ("85ps")
// or, failing that, taken from the next token.
func splitQuantity(tok, next string) (float64, string, error) {
	tok = strings.TrimRight(tok, ",;)")
	m := quantityRe.FindStringSubmatch(tok)
	if m == nil {
		return 0, "", fmt.Errorf("not a number")
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", err
	}
	unit := strings.TrimRight(strings.TrimSpace(m[2]), ".")
	if unit == "" {
		unit = strings.TrimRight(next, ".,;")
	}
	return v, strings.ToLower(unit), nil
}

func parseNumber(tok, _ string) (float64, error) {
	v, _, err := splitQuantity(tok, "")
	return v, err
}

func parseCount(tok, _ string) (float64, error) {
	v, _, err := splitQuantity(tok, "")
	if err != nil {
		return 0, err
	}
	if v < 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("count must be a non-negative integer")
	}
	return v, nil
}

// timeNs normalizes a time quantity to nanoseconds. OpenSTA reports in ns
// unless told otherwise, so a missing unit means ns.
func timeNs(tok, next string) (float64, error) {
	v, unit, err := splitQuantity(tok, next)
	if err != nil {
		return 0, err
	}
	return scaleTime(v, unit, "ns")
}

// timePs normalizes a time quantity to picoseconds; a missing unit means ns.
func timePs(tok, next string) (float64, error) {
	v, unit, err := splitQuantity(tok, next)
	if err != nil {
		return 0, err
	}
	return scaleTime(v, unit, "ps")
}

var timeScale = map[string]float64{"ps": 1e-3, "ns": 1, "us": 1e3}

func scaleTime(v float64, unit, to string) (float64, error) {
	if _, known := timeScale[unit]; !known {
		unit = "ns"
	}
	if unit == to {
		return v, nil
	}
	return v * timeScale[unit] / timeScale[to], nil
}

// lengthUm normalizes a length to micrometers.
func lengthUm(tok, next string) (float64, error) {
	v, unit, err := splitQuantity(tok, next)
	if err != nil {
		return 0, err
	}
	switch unit {
	case "mm":
		return v * 1e3, nil
	case "nm":
		return v * 1e-3, nil
	default:
		return v, nil
	}
}

// areaUm2 normalizes an area to square micrometers.
func areaUm2(tok, next string) (float64, error) {
	v, unit, err := splitQuantity(tok, next)
	if err != nil {
		return 0, err
	}
	switch unit {
	case "mm^2", "mm2":
		return v * 1e6, nil
	default:
		return v, nil
	}
}

// percent reads "12.5%" / "12.5 %" as percent and a bare number as a
// fraction of one, which tools such as RePlAce print for overflow.
func percent(tok, next string) (float64, error) {
	v, unit, err := splitQuantity(tok, next)
	if err != nil {
		return 0, err
	}
	if unit == "%" {
		return v, nil
	}
	return v * 100, nil
}

// percentValue reads a quantity that is always a percentage.
func percentValue(tok, next string) (float64, error) {
	v, _, err := splitQuantity(tok, next)
	return v, err
}
