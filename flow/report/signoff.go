package report

import (
	"regexp"

	"github.com/flowtune/flowtune/flow"
)

var (
	lvsPassRe = regexp.MustCompile(`(?i)circuits match uniquely|\blvs (?:is )?clean\b|total errors\s*=\s*0\b`)
	lvsFailRe = regexp.MustCompile(`(?i)netlists do not match|circuits do not match|\blvs failed\b|total errors\s*=\s*[1-9]`)
)

var signoffRules = []fieldRule{
	{metric: flow.MetricDRCViolations, key: regexp.MustCompile(`(?i)total magic drc violations is\s+(\S+)`), parse: parseCount},
	{metric: flow.MetricDRCViolations, key: regexp.MustCompile(`(?i)total (?:number of )?drc violations\s*[:=]?\s*(\S+)`), parse: parseCount},
	{metric: flow.MetricAntennaViolation, key: regexp.MustCompile(`(?i)number of pins violated\s*:\s*(\S+)`), parse: parseCount},
	{metric: flow.MetricAntennaViolation, key: regexp.MustCompile(`(?i)antenna violations\s*[:=]\s*(\S+)`), parse: parseCount},
}

// ExtractSignoff parses the combined signoff report: final STA, Magic DRC,
// antenna check and Netgen LVS. An LVS verdict that cannot be found is
// recorded as UNKNOWN and flagged; any mismatch line makes it FAIL.
func ExtractSignoff(text string) flow.MetricRecord {
	if rec, bad := malformed(flow.StageSignoff, text); bad {
		return rec
	}
	b := newBuilder(flow.StageSignoff)
	sta := newSlackScan()
	pass, fail := false, false
	for i, line := range lines(text) {
		if sta.line(b, i+1, line) {
			continue
		}
		if noDRCRe.MatchString(line) {
			b.set(flow.MetricDRCViolations, 0, aggLast)
			continue
		}
		if lvsFailRe.MatchString(line) {
			fail = true
			continue
		}
		if lvsPassRe.MatchString(line) {
			pass = true
			continue
		}
		b.apply(i+1, line, signoffRules)
	}
	sta.commit(b)

	switch {
	case fail:
		b.setEnum(flow.MetricLVSStatus, string(flow.LVSFail))
	case pass:
		b.setEnum(flow.MetricLVSStatus, string(flow.LVSPass))
	default:
		b.setEnum(flow.MetricLVSStatus, string(flow.LVSUnknown))
		b.anomaly(0, flow.MetricLVSStatus, "LVS verdict not found")
	}
	return b.finish(flow.MetricWNS, flow.MetricDRCViolations, flow.MetricAntennaViolation)
}
