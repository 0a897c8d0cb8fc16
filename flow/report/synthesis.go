package report

import (
	"regexp"

	"github.com/flowtune/flowtune/flow"
)

// Yosys "stat" output. With a hierarchy the top-level totals come last, so
// the final occurrence wins.
var synthesisRules = []fieldRule{
	{metric: flow.MetricCellCount, key: regexp.MustCompile(`(?i)number of cells:\s*(\S+)`), parse: parseCount},
	{metric: flow.MetricAreaUm2, key: regexp.MustCompile(`(?i)chip area for (?:top )?module\s+'[^']*':\s*(\S+)(?:\s+(\S+))?`), parse: areaUm2},
}

// ExtractSynthesis parses a synthesis statistics report, optionally followed
// by a post-synthesis timing report.
func ExtractSynthesis(text string) flow.MetricRecord {
	if rec, bad := malformed(flow.StageSynthesis, text); bad {
		return rec
	}
	b := newBuilder(flow.StageSynthesis)
	sta := newSlackScan()
	for i, line := range lines(text) {
		if sta.line(b, i+1, line) {
			continue
		}
		b.apply(i+1, line, synthesisRules)
	}
	sta.commit(b)
	return b.finish(flow.MetricCellCount, flow.MetricAreaUm2)
}
