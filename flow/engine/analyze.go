package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/report"
)

// Analysis is the verdict on an existing run directory, with the adjustment
// the tuner would make next.
type Analysis struct {
	Dir       string              `json:"dir"`
	Records   []flow.MetricRecord `json:"records"`
	Problems  []flow.Problem      `json:"problems"`
	Success   bool                `json:"success"`
	Proposal  *flow.Adjustment    `json:"proposal,omitempty"`
	Next      flow.ParameterState `json:"next_params"`
	Exhausted string              `json:"exhausted,omitempty"`
}

// Analyze runs ANALYZE and TUNE once over the artifacts in dir, without
// invoking the flow. params is the state the run used.
func Analyze(dir string, policy flow.ResolvedPolicy, layout report.Layout, params flow.ParameterState) (*Analysis, error) {
	if layout == nil {
		layout = report.DefaultLayout()
	}
	records, err := report.CollectRun(dir, layout, flow.StagesThrough(policy.TargetStage))
	if err != nil {
		return nil, err
	}
	verdict := policy.NewClassifier().Classify(records)
	a := &Analysis{Dir: dir, Records: records, Problems: verdict.Problems, Success: verdict.Success}
	if verdict.Success {
		return a, nil
	}
	top, _ := verdict.Top()
	d, err := policy.NewTuner().Propose(top, params, nil)
	switch {
	case errors.Is(err, flow.ErrAdjustmentExhausted):
		a.Exhausted = err.Error()
	case err != nil:
		return nil, err
	default:
		a.Proposal = &d.Adjustment
		a.Next = d.State
	}
	return a, nil
}

// Print writes the records, ranked problems and proposal.
func (a *Analysis) Print(w io.Writer) {
	fmt.Fprintf(w, "=== Analysis of %s ===\n", a.Dir)
	for _, rec := range a.Records {
		fmt.Fprintf(w, "%-10s", rec.Stage())
		for _, name := range rec.Names() {
			v, _ := rec.Get(name)
			fmt.Fprintf(w, " %s=%s", name, v)
		}
		fmt.Fprintln(w)
		for _, an := range rec.Anomalies() {
			fmt.Fprintf(w, "           ! %s\n", an)
		}
	}
	if a.Success {
		fmt.Fprintln(w, "Result: clean signoff")
		return
	}
	fmt.Fprintln(w, "Problems:")
	for i, p := range a.Problems {
		fmt.Fprintf(w, "  %d. %s\n", i+1, p)
	}
	switch {
	case a.Proposal != nil:
		fmt.Fprintf(w, "Next adjustment: %s\n", a.Proposal.Justification)
	case a.Exhausted != "":
		fmt.Fprintf(w, "No adjustment possible: %s\n", a.Exhausted)
	}
}
