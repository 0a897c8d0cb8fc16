package report

import (
	"regexp"

	"github.com/flowtune/flowtune/flow"
)

var (
	drcErrorLineRe = regexp.MustCompile(`(?i)^\s*\[ERROR\].*violation`)
	noDRCRe        = regexp.MustCompile(`(?i)\bno drc violations\b`)
)

var routingRules = []fieldRule{
	{metric: flow.MetricDRCViolations, key: regexp.MustCompile(`(?i)total (?:number of )?drc violations\s*[:=]?\s*(\S+)`), parse: parseCount},
	// OpenROAD detailed routing prints this after every iteration.
	{metric: flow.MetricDRCViolations, key: regexp.MustCompile(`(?i)number of violations\s*=\s*(\S+)`), parse: parseCount},
	{metric: flow.MetricAntennaViolation, key: regexp.MustCompile(`(?i)antenna violations\s*[:=]\s*(\S+)`), parse: parseCount},
	{metric: flow.MetricRoutingOverflow, key: regexp.MustCompile(`(?i)\b(?:total|congestion) overflow\s*[:=]\s*(\S+)(?:\s+(\S+))?`), parse: percent},
	{metric: flow.MetricWirelengthUm, key: regexp.MustCompile(`(?i)total wire ?length\s*[:=]\s*(\S+)(?:\s+(\S+))?`), parse: lengthUm},
	{metric: flow.MetricViaCount, key: regexp.MustCompile(`(?i)total number of vias\s*[:=]\s*(\S+)`), parse: parseCount},
}

// ExtractRouting parses a routing report. When no violation total is
// printed, the count of "[ERROR] ... violation" lines stands in for it; a
// report with neither leaves the count unset.
func ExtractRouting(text string) flow.MetricRecord {
	if rec, bad := malformed(flow.StageRouting, text); bad {
		return rec
	}
	b := newBuilder(flow.StageRouting)
	errorLines := 0
	clean := false
	for i, line := range lines(text) {
		if drcErrorLineRe.MatchString(line) {
			errorLines++
			continue
		}
		if noDRCRe.MatchString(line) {
			clean = true
			continue
		}
		b.apply(i+1, line, routingRules)
	}
	if !b.has(flow.MetricDRCViolations) {
		switch {
		case errorLines > 0:
			b.set(flow.MetricDRCViolations, float64(errorLines), aggLast)
		case clean:
			b.set(flow.MetricDRCViolations, 0, aggLast)
		}
	}
	return b.finish(flow.MetricDRCViolations)
}
