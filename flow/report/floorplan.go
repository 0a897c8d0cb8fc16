package report

import (
	"regexp"
	"strconv"

	"github.com/flowtune/flowtune/flow"
)

var (
	designAreaRe = regexp.MustCompile(`(?i)design area\s+(\S+)\s+u\^2\s+(\S+)%\s+utilization`)
	defUnitsRe   = regexp.MustCompile(`^\s*UNITS\s+DISTANCE\s+MICRONS\s+(\S+)\s*;`)
	defDieAreaRe = regexp.MustCompile(`^\s*DIEAREA\s+\(\s*(-?\d+)\s+(-?\d+)\s*\)\s*\(\s*(-?\d+)\s+(-?\d+)\s*\)`)
)

var floorplanRules = []fieldRule{
	{metric: flow.MetricUtilizationPct, key: regexp.MustCompile(`(?i)core utili[sz]ation\s*[:=]\s*(\S+)`), parse: percentValue},
	{metric: flow.MetricDieAreaUm2, key: regexp.MustCompile(`(?i)die area\s*[:=]\s*(\S+)(?:\s+(\S+))?`), parse: areaUm2},
	{metric: flow.MetricAreaUm2, key: regexp.MustCompile(`(?i)core area\s*[:=]\s*(\S+)(?:\s+(\S+))?`), parse: areaUm2},
}

// ExtractFloorplan parses a floorplan report: OpenROAD's report_design_area
// line, explicit area/utilization lines, and the DEF header (UNITS and
// DIEAREA, converted from database units to µm²).
func ExtractFloorplan(text string) flow.MetricRecord {
	if rec, bad := malformed(flow.StageFloorplan, text); bad {
		return rec
	}
	b := newBuilder(flow.StageFloorplan)
	dbu := 0.0
	dieLine := 0
	var die [4]float64
	for i, line := range lines(text) {
		lineNo := i + 1
		if m := designAreaRe.FindStringSubmatch(line); m != nil {
			area, err1 := strconv.ParseFloat(m[1], 64)
			util, err2 := strconv.ParseFloat(m[2], 64)
			if err1 != nil || err2 != nil {
				b.anomaly(lineNo, flow.MetricUtilizationPct, "unparseable design area line")
				continue
			}
			b.set(flow.MetricAreaUm2, area, aggLast)
			b.set(flow.MetricUtilizationPct, util, aggLast)
			continue
		}
		if m := defUnitsRe.FindStringSubmatch(line); m != nil {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil || v <= 0 {
				b.anomaly(lineNo, flow.MetricDieAreaUm2, "invalid DEF database units %q", m[1])
				continue
			}
			dbu = v
			continue
		}
		if m := defDieAreaRe.FindStringSubmatch(line); m != nil {
			for j := range die {
				die[j], _ = strconv.ParseFloat(m[j+1], 64)
			}
			dieLine = lineNo
			continue
		}
		b.apply(lineNo, line, floorplanRules)
	}
	if dieLine > 0 {
		if dbu == 0 {
			b.anomaly(dieLine, flow.MetricDieAreaUm2, "DIEAREA without UNITS DISTANCE MICRONS")
		} else {
			w := (die[2] - die[0]) / dbu
			h := (die[3] - die[1]) / dbu
			b.set(flow.MetricDieAreaUm2, w*h, aggLast)
		}
	}
	return b.finish(flow.MetricUtilizationPct, flow.MetricDieAreaUm2)
}
