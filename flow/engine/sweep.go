package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/report"
)

// SweepAxis is one parameter and the values a sweep tries for it.
type SweepAxis struct {
	Param  string
	Values []float64
}

// ParseAxis parses "name=v1,v2,..." where name is a parameter name or its
// config key. Tier parameters accept tier names ("DELAY 1") or indices.
func ParseAxis(text string, space *flow.ParamSpace) (SweepAxis, error) {
	name, list, ok := strings.Cut(text, "=")
	if !ok {
		return SweepAxis{}, fmt.Errorf("sweep axis %q: want name=v1,v2,...", text)
	}
	name = strings.TrimSpace(name)
	spec, found := space.Spec(name)
	if !found {
		for _, s := range space.Specs() {
			if s.Key == name {
				spec, found = s, true
				break
			}
		}
	}
	if !found {
		return SweepAxis{}, fmt.Errorf("sweep axis %q: unknown parameter %q", text, name)
	}
	axis := SweepAxis{Param: spec.Name}
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if spec.Kind == flow.KindTier {
			if idx := spec.TierIndex(raw); idx >= 0 {
				axis.Values = append(axis.Values, float64(idx))
				continue
			}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return SweepAxis{}, fmt.Errorf("sweep axis %q: bad value %q", text, raw)
		}
		axis.Values = append(axis.Values, v)
	}
	if len(axis.Values) == 0 {
		return SweepAxis{}, fmt.Errorf("sweep axis %q: no values", text)
	}
	return axis, nil
}

// Grid returns the cartesian product of axes. The last axis varies fastest.
func Grid(axes []SweepAxis) []map[string]float64 {
	if len(axes) == 0 {
		return nil
	}
	points := []map[string]float64{{}}
	for _, ax := range axes {
		next := make([]map[string]float64, 0, len(points)*len(ax.Values))
		for _, p := range points {
			for _, v := range ax.Values {
				q := make(map[string]float64, len(p)+1)
				for k, pv := range p {
					q[k] = pv
				}
				q[ax.Param] = v
				next = append(next, q)
			}
		}
		points = next
	}
	return points
}

// SweepResult is the outcome of one sweep point.
type SweepResult struct {
	Index    int                 `json:"index"`
	Assigned map[string]float64  `json:"assigned"`
	Params   flow.ParameterState `json:"params"`
	Invalid  string              `json:"invalid,omitempty"` // set when the point was not run
	Skipped  bool                `json:"skipped,omitempty"` // cancelled before it started
	RunError string              `json:"run_error,omitempty"`
	Records  []flow.MetricRecord `json:"records,omitempty"`
	Problems []flow.Problem      `json:"problems,omitempty"`
	Success  bool                `json:"success"`
	WorkDir  string              `json:"work_dir,omitempty"`
	Duration time.Duration       `json:"duration_ns"`
}

// WNS returns the worst setup slack reported by the deepest stage that
// has one.
func (r SweepResult) WNS() (float64, bool) {
	for i := len(r.Records) - 1; i >= 0; i-- {
		if v, ok := r.Records[i].Number(flow.MetricWNS); ok {
			return v, true
		}
	}
	return 0, false
}

// SweepReport aggregates every point, sorted by index.
type SweepReport struct {
	Results   []SweepResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Invalid   int           `json:"invalid"`
	Skipped   int           `json:"skipped"`
	WNS       Distribution  `json:"wns_ns"`
}

// Sweep runs every grid point once, in parallel, each in its own
// directory. Points share no state.
type Sweep struct {
	Policy      flow.ResolvedPolicy
	Runner      FlowRunner
	Base        flow.ParameterState
	Axes        []SweepAxis
	WorkDir     string
	Parallelism int // defaults to 1
	Layout      report.Layout
	Metrics     *Metrics
}

// Run executes the sweep. Points not yet started when ctx is cancelled
// are reported as skipped; started points always complete.
func (s *Sweep) Run(ctx context.Context) (*SweepReport, error) {
	if s.Runner == nil {
		return nil, fmt.Errorf("sweep: runner is required")
	}
	if s.Base.Space() == nil {
		return nil, fmt.Errorf("sweep: base parameter state is required")
	}
	if s.WorkDir == "" {
		return nil, fmt.Errorf("sweep: work directory is required")
	}
	policy := s.Policy
	if policy.Space == nil {
		policy = flow.DefaultPolicy()
	}
	layout := s.Layout
	if layout == nil {
		layout = report.DefaultLayout()
	}
	stages := flow.StagesThrough(policy.TargetStage)
	classifier := policy.NewClassifier()

	points := Grid(s.Axes)
	results := make([]SweepResult, len(points))

	var g errgroup.Group
	g.SetLimit(max(s.Parallelism, 1))
	for i, assigned := range points {
		results[i] = SweepResult{Index: i, Assigned: assigned}
		params, err := applyAll(s.Base, assigned)
		if err != nil {
			results[i].Invalid = err.Error()
			logrus.Infof("sweep: point %d invalid: %v", i, err)
			continue
		}
		results[i].Params = params
		i := i
		g.Go(func() error {
			res := &results[i]
			if ctx.Err() != nil {
				res.Skipped = true
				return nil
			}
			res.WorkDir = filepath.Join(s.WorkDir, fmt.Sprintf("point-%03d", i))
			start := time.Now()
			out, err := s.Runner.RunFlow(context.WithoutCancel(ctx), RunRequest{
				Attempt: i + 1,
				Params:  params,
				Stages:  stages,
				WorkDir: res.WorkDir,
			})
			if err != nil {
				logrus.Warnf("sweep: point %d: %v", i, err)
				res.RunError = err.Error()
			}
			dir := out.Dir
			if dir == "" {
				dir = res.WorkDir
			}
			records, err := report.CollectRun(dir, layout, stages)
			if err != nil {
				res.RunError = strings.TrimPrefix(res.RunError+"; "+err.Error(), "; ")
			}
			verdict := classifier.Classify(records)
			res.Records = records
			res.Problems = verdict.Problems
			res.Success = verdict.Success
			res.Duration = time.Since(start)
			s.Metrics.observeAttempt(flow.AttemptRecord{
				Iteration: i + 1,
				Problems:  res.Problems,
				RunError:  res.RunError,
				Duration:  res.Duration,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &SweepReport{Results: results}
	sort.Slice(rep.Results, func(a, b int) bool { return rep.Results[a].Index < rep.Results[b].Index })
	var wns []float64
	for _, r := range rep.Results {
		switch {
		case r.Invalid != "":
			rep.Invalid++
		case r.Skipped:
			rep.Skipped++
		case r.Success:
			rep.Succeeded++
		default:
			rep.Failed++
		}
		if v, ok := r.WNS(); ok {
			wns = append(wns, v)
		}
	}
	rep.WNS = NewDistribution(wns)
	logrus.Infof("sweep: %d point(s): %d succeeded, %d failed, %d invalid, %d skipped",
		len(rep.Results), rep.Succeeded, rep.Failed, rep.Invalid, rep.Skipped)
	return rep, nil
}

// applyAll sets every assigned value on base. Values are merged before
// validation because a partial assignment may break the density/utilization
// invariant that the full point satisfies.
func applyAll(base flow.ParameterState, assigned map[string]float64) (flow.ParameterState, error) {
	values := base.Values()
	for k, v := range assigned {
		values[k] = v
	}
	return flow.NewParameterState(base.Space(), values)
}

// WriteJSON writes the report, indented, to path.
func (r *SweepReport) WriteJSON(path string) error { return writeJSON(path, r) }

// Print writes one line per point.
func (r *SweepReport) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Sweep Results ===")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tASSIGNED\tRESULT\tWNS (ns)")
	for _, res := range r.Results {
		status := "clean"
		switch {
		case res.Invalid != "":
			status = "invalid: " + res.Invalid
		case res.Skipped:
			status = "skipped"
		case !res.Success && len(res.Problems) > 0:
			status = res.Problems[0].String()
		case !res.Success:
			status = "failed"
		}
		wns := "-"
		if v, ok := res.WNS(); ok {
			wns = strconv.FormatFloat(v, 'f', 3, 64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", res.Index, formatAssigned(res.Assigned), status, wns)
	}
	tw.Flush()
	fmt.Fprintf(w, "Succeeded: %d  Failed: %d  Invalid: %d  Skipped: %d\n", r.Succeeded, r.Failed, r.Invalid, r.Skipped)
}

func formatAssigned(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, m[k])
	}
	return strings.Join(parts, " ")
}
