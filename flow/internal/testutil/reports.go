// Package testutil provides shared test infrastructure for flowtune:
// canonical stage report texts, a run-directory writer, the extractor golden
// dataset and float assertion helpers used across flow/ test packages.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// SynthesisReport renders a Yosys stat report.
func SynthesisReport(cells int, areaUm2 float64) string {
	return fmt.Sprintf(`=== spm ===

   Number of wires:                 92
   Number of cells:                 %d

   Chip area for module '\spm': %.3f
`, cells, areaUm2)
}

// FloorplanReport renders OpenROAD's report_design_area line plus a die
// area line.
func FloorplanReport(coreAreaUm2, utilPct, dieAreaUm2 float64) string {
	return fmt.Sprintf(`Design area %.0f u^2 %.0f%% utilization.
Die area: %.1f um^2
`, coreAreaUm2, utilPct, dieAreaUm2)
}

// PlacementReport renders global placement iterations ending at the final
// overflow fraction.
func PlacementReport(finalOverflow float64) string {
	return fmt.Sprintf(`[NesterovSolve] Iter:   10 overflow: 0.712 HPWL: 1834221
[NesterovSolve] Iter:  200 overflow: %.3f HPWL: 2104412
`, finalOverflow)
}

// CTSReport renders a clock skew report in picoseconds.
func CTSReport(skewPs float64) string {
	return fmt.Sprintf(`Clock clk
  latency: 412.1 ps
  skew: %.1f ps
`, skewPs)
}

// RoutingReport renders a detailed-routing summary.
func RoutingReport(drc int) string {
	return fmt.Sprintf(`[INFO DRT-0199]   Number of violations = %d.
Total wire length = 48211 um
Total number of vias = 10324
`, drc)
}

// SignoffReport renders a combined signoff report. lvsPass selects the
// Netgen verdict.
func SignoffReport(wnsNs float64, drc, antenna int, lvsPass bool) string {
	lvs := "Circuits match uniquely."
	if !lvsPass {
		lvs = "Netlists do not match."
	}
	return fmt.Sprintf(`Path Type: max
  %.2f   slack (%s)
wns %.2f
[INFO]: Total Magic DRC violations is %d
Number of pins violated: %d
%s
`, wnsNs, metOrViolated(wnsNs), wnsNs, drc, antenna, lvs)
}

func metOrViolated(slack float64) string {
	if slack < 0 {
		return "VIOLATED"
	}
	return "MET"
}

// CleanReports returns a full set of passing reports keyed by the flat
// layout path (reports/<stage>.rpt).
func CleanReports() map[string]string {
	return map[string]string{
		"reports/synthesis.rpt": SynthesisReport(812, 9350.5),
		"reports/floorplan.rpt": FloorplanReport(9350, 45, 40000),
		"reports/placement.rpt": PlacementReport(0),
		"reports/cts.rpt":       CTSReport(45),
		"reports/routing.rpt":   RoutingReport(0),
		"reports/signoff.rpt":   SignoffReport(0.25, 0, 0, true),
	}
}

// WriteRun writes files (relative path → content) under dir.
func WriteRun(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
}
