package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/internal/testutil"
)

// scriptedRunner stands in for the external flow: it writes the reports
// returned by script into the request's work directory.
type scriptedRunner struct {
	script func(req RunRequest) (map[string]string, error)
	onRun  func(req RunRequest)

	mu      sync.Mutex
	calls   []RunRequest
	ctxErrs []error
}

func (r *scriptedRunner) RunFlow(ctx context.Context, req RunRequest) (RunResult, error) {
	if r.onRun != nil {
		r.onRun(req)
	}
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()
	files, runErr := r.script(req)
	for rel, content := range files {
		path := filepath.Join(req.WorkDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return RunResult{}, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return RunResult{}, err
		}
	}
	code := 0
	if runErr != nil {
		code = 1
	}
	return RunResult{Dir: req.WorkDir, ExitCode: code}, runErr
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// reports returns a full report set whose signoff carries wns and drc, with
// the routing DRC count matching.
func reports(wns float64, drc int) map[string]string {
	files := testutil.CleanReports()
	files["reports/routing.rpt"] = testutil.RoutingReport(drc)
	files["reports/signoff.rpt"] = testutil.SignoffReport(wns, drc, 0, true)
	return files
}

// timingClosesAt passes once clock_period reaches period and reports
// wns=-0.5 before that.
func timingClosesAt(period float64) func(RunRequest) (map[string]string, error) {
	return func(req RunRequest) (map[string]string, error) {
		clk, _ := req.Params.Get(flow.ParamClockPeriod)
		if clk < period {
			return reports(-0.5, 0), nil
		}
		return reports(0.25, 0), nil
	}
}

// crashesAfterPlacement leaves partial reports and fails.
func crashesAfterPlacement(RunRequest) (map[string]string, error) {
	all := testutil.CleanReports()
	return map[string]string{
		"reports/synthesis.rpt": all["reports/synthesis.rpt"],
		"reports/floorplan.rpt": all["reports/floorplan.rpt"],
		"reports/placement.rpt": all["reports/placement.rpt"],
	}, errors.New("flow command failed: exit status 1")
}
