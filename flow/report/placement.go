package report

import (
	"regexp"

	"github.com/flowtune/flowtune/flow"
)

// Global placement prints an overflow per iteration; the final one is the
// result. A bare number is RePlAce's fraction, "%" marks a percentage.
var placementRules = []fieldRule{
	{metric: flow.MetricDensityOverflow, key: regexp.MustCompile(`(?i)\boverflow\s*[:=]\s*(\S+)(?:\s+(\S+))?`), parse: percent},
	{metric: flow.MetricHPWLUm, key: regexp.MustCompile(`(?i)\bhpwl\s*[:=]\s*(\S+)(?:\s+(\S+))?`), parse: lengthUm},
}

// ExtractPlacement parses a global/detailed placement report.
func ExtractPlacement(text string) flow.MetricRecord {
	if rec, bad := malformed(flow.StagePlacement, text); bad {
		return rec
	}
	b := newBuilder(flow.StagePlacement)
	for i, line := range lines(text) {
		b.apply(i+1, line, placementRules)
	}
	return b.finish(flow.MetricDensityOverflow)
}
