package flow

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Classification is the Classifier's verdict for one attempt.
type Classification struct {
	Problems []Problem // ranked, most urgent first
	Success  bool      // no problems and a clean record at the target stage
}

// Top returns the highest-ranked problem, or false if there is none.
func (c Classification) Top() (Problem, bool) {
	if len(c.Problems) == 0 {
		return Problem{}, false
	}
	return c.Problems[0], true
}

// Classifier evaluates an attempt's metric records against a threshold table
// and picks the bottleneck. It holds no state between calls.
type Classifier struct {
	thresholds Thresholds
	target     Stage // last stage the flow is asked to reach
}

// NewClassifier creates a Classifier. Panics on an unknown target stage.
func NewClassifier(thresholds Thresholds, target Stage) *Classifier {
	if target.Index() < 0 {
		panic(fmt.Sprintf("unknown target stage %q", target))
	}
	return &Classifier{thresholds: thresholds, target: target}
}

// Target returns the stage an attempt must reach to count as a success.
func (c *Classifier) Target() Stage { return c.target }

// Classify ranks the problems found in records, the complete set produced by
// one attempt. Records with parse anomalies make the result parse_failure
// only, since no tuning decision can rest on an incomplete record.
func (c *Classifier) Classify(records []MetricRecord) Classification {
	ordered := make([]MetricRecord, len(records))
	copy(ordered, records)
	slices.SortStableFunc(ordered, func(a, b MetricRecord) int {
		return cmp.Compare(a.Stage().Index(), b.Stage().Index())
	})

	if failures := parseFailures(ordered); len(failures) > 0 {
		return Classification{Problems: failures}
	}

	var problems []Problem
	for _, rec := range ordered {
		problems = append(problems, c.evaluate(rec)...)
	}
	sortProblems(problems)
	if len(problems) > 0 {
		return Classification{Problems: problems}
	}

	if missing, ok := c.unreached(ordered); ok {
		return Classification{Problems: []Problem{missing}}
	}
	return Classification{Success: true}
}

func parseFailures(records []MetricRecord) []Problem {
	var out []Problem
	for _, rec := range records {
		if rec.Complete() {
			continue
		}
		reasons := make([]string, 0, len(rec.anomalies))
		for _, a := range rec.anomalies {
			reasons = append(reasons, a.String())
		}
		out = append(out, Problem{
			Category: CategoryParseFailure,
			Severity: float64(len(rec.anomalies)),
			Stage:    rec.Stage(),
			Detail:   strings.Join(reasons, "; "),
		})
	}
	sortProblems(out)
	return out
}

func (c *Classifier) evaluate(rec MetricRecord) []Problem {
	var out []Problem
	for _, chk := range thresholdTable {
		v, ok := rec.Number(chk.metric)
		if !ok {
			continue
		}
		limit, enabled := chk.limit(c.thresholds)
		if !enabled {
			continue
		}
		if sev, bad := chk.violated(v, limit); bad {
			out = append(out, Problem{
				Category:  chk.category,
				Severity:  sev,
				Stage:     rec.Stage(),
				Metric:    chk.metric,
				Value:     v,
				Threshold: limit,
			})
		}
	}
	if status, ok := rec.Enum(MetricLVSStatus); ok && LVSStatus(status) == LVSFail {
		out = append(out, Problem{
			Category: CategoryLVSMismatch,
			Severity: 1,
			Stage:    rec.Stage(),
			Metric:   MetricLVSStatus,
			Detail:   "layout does not match schematic",
		})
	}
	return out
}

// unreached returns a parse_failure problem when the attempt produced no
// violations yet did not reach a clean target stage, e.g. the flow crashed
// or the target report lacks a signoff field. A record at the target stage
// implies every earlier stage ran, even if some reports were not kept.
func (c *Classifier) unreached(records []MetricRecord) (Problem, bool) {
	last := -1
	var target *MetricRecord
	for i := range records {
		if idx := records[i].Stage().Index(); idx > last {
			last = idx
		}
		if records[i].Stage() == c.target {
			target = &records[i]
		}
	}
	if target == nil {
		next := AllStages[min(last+1, c.target.Index())]
		return Problem{
			Category: CategoryParseFailure,
			Severity: 1,
			Stage:    next,
			Detail:   fmt.Sprintf("stage %s not reached", next),
		}, true
	}
	if c.target != StageSignoff {
		return Problem{}, false
	}
	if missing := missingSignoffFields(*target); len(missing) > 0 {
		return Problem{
			Category: CategoryParseFailure,
			Severity: float64(len(missing)),
			Stage:    StageSignoff,
			Detail:   "signoff record lacks " + strings.Join(missing, ", "),
		}, true
	}
	return Problem{}, false
}

// missingSignoffFields lists the fields a clean signoff requires but rec does
// not carry. Threshold compliance of present fields is checked by evaluate.
func missingSignoffFields(rec MetricRecord) []string {
	var missing []string
	for _, name := range []string{MetricWNS, MetricDRCViolations, MetricAntennaViolation} {
		if _, ok := rec.Number(name); !ok {
			missing = append(missing, name)
		}
	}
	if status, ok := rec.Enum(MetricLVSStatus); !ok || LVSStatus(status) != LVSPass {
		missing = append(missing, MetricLVSStatus+"=PASS")
	}
	return missing
}

// sortProblems orders problems by rank, then severity descending, with
// category, stage and metric as final tie-breaks so the order is total.
func sortProblems(problems []Problem) {
	slices.SortStableFunc(problems, func(a, b Problem) int {
		if c := cmp.Compare(a.rank(), b.rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Stage.Index(), b.Stage.Index()); c != 0 {
			return c
		}
		return cmp.Compare(a.Metric, b.Metric)
	})
}
