package report

import (
	"regexp"

	"github.com/flowtune/flowtune/flow"
)

// Skew is reported per clock; the worst clock decides. The separator is
// optional but the value must be numeric, so prose such as "skew report" is
// skipped.
var ctsRules = []fieldRule{
	{metric: flow.MetricSkewPs, key: regexp.MustCompile(`(?i)\bskew(?:\s*[:=]\s*|\s+)([-+]?\.?\d\S*)(?:\s+(\S+))?`), parse: timePs, agg: aggMax},
}

// ExtractCTS parses a clock-tree synthesis report with optional post-CTS
// timing.
func ExtractCTS(text string) flow.MetricRecord {
	if rec, bad := malformed(flow.StageCTS, text); bad {
		return rec
	}
	b := newBuilder(flow.StageCTS)
	sta := newSlackScan()
	for i, line := range lines(text) {
		if sta.line(b, i+1, line) {
			continue
		}
		b.apply(i+1, line, ctsRules)
	}
	sta.commit(b)
	return b.finish(flow.MetricSkewPs)
}
