package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/report"
)

// Outcome is the terminal result of a convergence run.
type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomeExhausted      Outcome = "EXHAUSTED"
	OutcomeBudgetExceeded Outcome = "BUDGET_EXCEEDED"
	OutcomeCancelled      Outcome = "CANCELLED"
)

// State is a step of the convergence state machine.
type State string

const (
	StateInit      State = "INIT"
	StateRunStage  State = "RUN_STAGE"
	StateAnalyze   State = "ANALYZE"
	StateTune      State = "TUNE"
	StateTerminate State = "TERMINATE"
)

// ParamStore persists the parameter state between attempts, normally the
// flow's configuration document.
type ParamStore interface {
	Load() (flow.ParameterState, error)
	Save(flow.ParameterState) error
}

// Config wires an Orchestrator.
type Config struct {
	Policy flow.ResolvedPolicy
	Runner FlowRunner

	// Store is read at INIT and before each attempt, and written after each
	// tuner decision. When nil, Initial seeds the run.
	Store   ParamStore
	Initial flow.ParameterState

	// WorkDir is the root under which each attempt gets its own directory.
	WorkDir string
	Layout  report.Layout // defaults to report.DefaultLayout()
	Metrics *Metrics      // optional
}

// Orchestrator drives the run/analyze/tune loop of one convergence run.
// It is single-use.
type Orchestrator struct {
	cfg        Config
	classifier *flow.Classifier
	tuner      *flow.Tuner
	stages     []flow.Stage
	history    *flow.RunHistory
	state      State
	hasRun     bool
}

// NewOrchestrator validates cfg and creates an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("orchestrator: runner is required")
	}
	if cfg.Store == nil && cfg.Initial.Space() == nil {
		return nil, fmt.Errorf("orchestrator: either a parameter store or an initial state is required")
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("orchestrator: work directory is required")
	}
	if cfg.Policy.Space == nil {
		cfg.Policy = flow.DefaultPolicy()
	}
	if cfg.Policy.MaxIterations < 1 {
		return nil, fmt.Errorf("orchestrator: max iterations must be >= 1, got %d", cfg.Policy.MaxIterations)
	}
	if cfg.Layout == nil {
		cfg.Layout = report.DefaultLayout()
	}
	return &Orchestrator{
		cfg:        cfg,
		classifier: cfg.Policy.NewClassifier(),
		tuner:      cfg.Policy.NewTuner(),
		stages:     flow.StagesThrough(cfg.Policy.TargetStage),
		history:    flow.NewRunHistory(),
		state:      StateInit,
	}, nil
}

// History returns the run's attempt log.
func (o *Orchestrator) History() *flow.RunHistory { return o.history }

// State returns the current state machine step.
func (o *Orchestrator) State() State { return o.state }

// attempt carries one iteration through RUN_STAGE, ANALYZE and TUNE.
type attempt struct {
	iteration int
	params    flow.ParameterState
	records   []flow.MetricRecord
	verdict   flow.Classification
	runErr    error
	start     time.Time
}

// Run executes the convergence loop until a terminal outcome. Cancelling
// ctx stops the run at the next attempt boundary; an attempt in progress
// always completes. The returned error is non-nil only for failures of the
// engine itself, such as an unreadable or unwritable parameter store.
// Panics if called more than once.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	if o.hasRun {
		panic("Orchestrator.Run() called more than once")
	}
	o.hasRun = true

	sum := &Summary{RunID: uuid.NewString(), StartedAt: time.Now()}
	var (
		params flow.ParameterState
		cur    *attempt
	)

	for o.state != StateTerminate {
		switch o.state {
		case StateInit:
			p, err := o.seed()
			if err != nil {
				return nil, err
			}
			params = p
			logrus.Infof("run %s: starting with %s", sum.RunID, formatParams(params))
			o.transition(StateRunStage)

		case StateRunStage:
			if err := ctx.Err(); err != nil {
				logrus.Infof("run %s: cancelled before attempt %d", sum.RunID, o.history.Len()+1)
				sum.Outcome = OutcomeCancelled
				o.transition(StateTerminate)
				continue
			}
			if o.history.Len() > 0 && o.cfg.Store != nil {
				p, err := o.cfg.Store.Load()
				if err != nil {
					return nil, fmt.Errorf("reading parameters before attempt %d: %w", o.history.Len()+1, err)
				}
				if !p.Equal(params) {
					logrus.Warnf("run %s: parameter store changed outside the engine; using %s", sum.RunID, formatParams(p))
				}
				params = p
			}
			cur = o.runStage(ctx, params)
			o.transition(StateAnalyze)

		case StateAnalyze:
			cur.verdict = o.classifier.Classify(cur.records)
			logrus.Infof("attempt %d: %s", cur.iteration, describe(cur.verdict))
			switch {
			case cur.verdict.Success:
				o.finish(sum, cur, OutcomeSuccess)
			case cur.iteration >= o.cfg.Policy.MaxIterations:
				o.finish(sum, cur, OutcomeBudgetExceeded)
			default:
				o.transition(StateTune)
			}

		case StateTune:
			top, _ := cur.verdict.Top()
			decision, err := o.tuner.Propose(top, cur.params, o.history)
			if errors.Is(err, flow.ErrAdjustmentExhausted) {
				logrus.Warnf("attempt %d: %v", cur.iteration, err)
				sum.ExhaustedParams = o.candidateParams(top.Category)
				o.finish(sum, cur, OutcomeExhausted)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("tuning after attempt %d: %w", cur.iteration, err)
			}
			adj := decision.Adjustment
			logrus.Infof("attempt %d: %s", cur.iteration, adj.Justification)
			o.record(cur, &adj)
			if o.cfg.Store != nil {
				if err := o.cfg.Store.Save(decision.State); err != nil {
					return nil, fmt.Errorf("writing parameters after attempt %d: %w", cur.iteration, err)
				}
			}
			params = decision.State
			o.transition(StateRunStage)
		}
	}

	sum.Iterations = o.history.Len()
	sum.FinalParams = params
	sum.History = o.history.Records()
	if last, ok := o.history.Last(); ok {
		sum.FinalProblems = last.Problems
		if len(last.Problems) > 0 {
			root := last.Problems[0]
			sum.RootCause = &root
		}
	}
	sum.ClampedParams = clampedParams(sum.History)
	sum.FinishedAt = time.Now()
	sum.AttemptDurations = durationDistribution(sum.History)
	o.cfg.Metrics.observeOutcome(sum.Outcome)
	logrus.Infof("run %s: %s after %d attempt(s)", sum.RunID, sum.Outcome, sum.Iterations)
	return sum, nil
}

func (o *Orchestrator) seed() (flow.ParameterState, error) {
	if o.cfg.Store == nil {
		return o.cfg.Initial, o.cfg.Initial.Validate()
	}
	p, err := o.cfg.Store.Load()
	if err != nil {
		return flow.ParameterState{}, fmt.Errorf("reading initial parameters: %w", err)
	}
	return p, nil
}

// runStage invokes the flow with a context that ignores cancellation, so an
// attempt is never cut short, then collects whatever artifacts exist.
func (o *Orchestrator) runStage(ctx context.Context, params flow.ParameterState) *attempt {
	a := &attempt{iteration: o.history.Len() + 1, params: params, start: time.Now()}
	req := RunRequest{
		Attempt: a.iteration,
		Params:  params,
		Stages:  o.stages,
		WorkDir: filepath.Join(o.cfg.WorkDir, fmt.Sprintf("attempt-%03d", a.iteration)),
	}
	logrus.Infof("attempt %d: running flow through %s", a.iteration, req.Through())
	res, err := o.cfg.Runner.RunFlow(context.WithoutCancel(ctx), req)
	if err != nil {
		logrus.Warnf("attempt %d: %v", a.iteration, err)
		a.runErr = err
	}
	dir := res.Dir
	if dir == "" {
		dir = req.WorkDir
	}
	records, err := report.CollectRun(dir, o.cfg.Layout, o.stages)
	if err != nil {
		logrus.Warnf("attempt %d: collecting reports: %v", a.iteration, err)
		a.runErr = errors.Join(a.runErr, err)
	}
	a.records = records
	return a
}

func (o *Orchestrator) record(a *attempt, adj *flow.Adjustment) {
	rec := flow.AttemptRecord{
		Iteration:  a.iteration,
		Params:     a.params,
		Records:    a.records,
		Problems:   a.verdict.Problems,
		Success:    a.verdict.Success,
		Adjustment: adj,
		Duration:   time.Since(a.start),
	}
	if a.runErr != nil {
		rec.RunError = a.runErr.Error()
	}
	o.history.Append(rec)
	o.cfg.Metrics.observeAttempt(rec)
}

func (o *Orchestrator) finish(sum *Summary, a *attempt, outcome Outcome) {
	o.record(a, nil)
	sum.Outcome = outcome
	o.transition(StateTerminate)
}

func (o *Orchestrator) transition(next State) {
	logrus.Debugf("orchestrator: %s -> %s", o.state, next)
	o.state = next
}

func (o *Orchestrator) candidateParams(c flow.Category) []string {
	var out []string
	for _, r := range o.cfg.Policy.Rules[c] {
		if r.Param != "" {
			out = append(out, r.Param)
		}
	}
	return out
}

func describe(c flow.Classification) string {
	if c.Success {
		return "clean signoff"
	}
	parts := make([]string, 0, len(c.Problems))
	for _, p := range c.Problems {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, "; ")
}

func formatParams(p flow.ParameterState) string {
	var parts []string
	for _, s := range p.Space().Specs() {
		parts = append(parts, s.Name+"="+p.Format(s.Name))
	}
	return strings.Join(parts, " ")
}
