package flow

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// ErrAdjustmentExhausted is returned when every candidate adjustment for a
// problem category sits at its bound. The run cannot make further progress.
var ErrAdjustmentExhausted = errors.New("no further adjustment possible")

const (
	// DefaultHistoryWindow is how many recent attempts are scanned for
	// opposite-direction moves of the same parameter.
	DefaultHistoryWindow = 3
	// DefaultMaxParseRetries bounds consecutive same-configuration retries.
	DefaultMaxParseRetries = 2
)

// Decision is the Tuner's output: the next state and the change that made it.
type Decision struct {
	State      ParameterState
	Adjustment Adjustment
}

// Tuner interprets a RuleTable: it maps the top-ranked problem to the first
// candidate adjustment that can still move, damping steps that would reverse
// a recent move and clamping at range and invariant bounds.
type Tuner struct {
	rules      RuleTable
	window     int
	maxRetries int
}

// NewTuner creates a Tuner. A window below 1 or a negative maxParseRetries
// falls back to the default; zero retries turns parse_failure retries off.
func NewTuner(rules RuleTable, window, maxParseRetries int) *Tuner {
	if window < 1 {
		window = DefaultHistoryWindow
	}
	if maxParseRetries < 0 {
		maxParseRetries = DefaultMaxParseRetries
	}
	return &Tuner{rules: rules, window: window, maxRetries: maxParseRetries}
}

// Propose returns the next ParameterState for problem, or an error wrapping
// ErrAdjustmentExhausted when no candidate can move. history may be nil.
func (t *Tuner) Propose(problem Problem, state ParameterState, history *RunHistory) (Decision, error) {
	candidates := t.rules[problem.Category]
	if len(candidates) == 0 {
		return Decision{}, fmt.Errorf("%w: no adjustment rule for %s", ErrAdjustmentExhausted, problem.Category)
	}
	var recent []AttemptRecord
	if history != nil {
		recent = history.Recent(max(t.window, t.maxRetries))
	}
	for _, rule := range candidates {
		var (
			d  Decision
			ok bool
		)
		switch rule.Mode {
		case ModeRetry:
			d, ok = t.retry(problem, state, recent)
		case ModeForce:
			d, ok = t.force(problem, rule, state)
		default:
			d, ok = t.step(problem, rule, state, lastN(recent, t.window))
		}
		if ok {
			return d, nil
		}
		logrus.Debugf("tuner: candidate %s %s for %s exhausted", rule.Mode, rule.Param, problem.Category)
	}
	return Decision{}, fmt.Errorf("%w: all candidates for %s are at their bounds", ErrAdjustmentExhausted, problem.Category)
}

func (t *Tuner) retry(problem Problem, state ParameterState, recent []AttemptRecord) (Decision, bool) {
	consecutive := 0
	for i := len(recent) - 1; i >= 0; i-- {
		adj := recent[i].Adjustment
		if adj == nil || !adj.IsRetry() {
			break
		}
		consecutive++
	}
	if consecutive >= t.maxRetries {
		return Decision{}, false
	}
	return Decision{
		State: state,
		Adjustment: Adjustment{
			Direction:     Hold,
			Justification: fmt.Sprintf("%s:retry", problem.Category),
		},
	}, true
}

func (t *Tuner) force(problem Problem, rule AdjustmentRule, state ParameterState) (Decision, bool) {
	cur, ok := state.Get(rule.Param)
	if !ok {
		return Decision{}, false
	}
	lo, hi := state.Bounds(rule.Param)
	target := math.Min(math.Max(rule.Target, lo), hi)
	if math.Abs(target-cur) <= valueEpsilon {
		return Decision{}, false
	}
	// A directed force only strengthens: a value already past the target
	// is left alone.
	if (rule.Direction == Increase && target < cur) || (rule.Direction == Decrease && target > cur) {
		return Decision{}, false
	}
	next, err := state.With(rule.Param, target)
	if err != nil {
		logrus.Warnf("tuner: rejected %s=%g: %v", rule.Param, target, err)
		return Decision{}, false
	}
	dir := Increase
	if target < cur {
		dir = Decrease
	}
	newVal, _ := next.Get(rule.Param)
	return Decision{
		State: next,
		Adjustment: Adjustment{
			Param:         rule.Param,
			Old:           cur,
			New:           newVal,
			Step:          math.Abs(newVal - cur),
			Direction:     dir,
			Justification: fmt.Sprintf("%s:%s=%s", problem.Category, rule.Param, next.Format(rule.Param)),
			Clamped:       target != rule.Target,
		},
	}, true
}

func (t *Tuner) step(problem Problem, rule AdjustmentRule, state ParameterState, window []AttemptRecord) (Decision, bool) {
	spec, ok := state.Space().Spec(rule.Param)
	if !ok {
		return Decision{}, false
	}
	cur, _ := state.Get(rule.Param)
	lo, hi := state.Bounds(rule.Param)
	dir := rule.Direction
	if (dir == Increase && cur >= hi-valueEpsilon) || (dir == Decrease && cur <= lo+valueEpsilon) {
		return Decision{}, false
	}

	base := rule.Step
	if base == 0 {
		base = spec.Step
	}
	step, damped := dampStep(rule.Param, dir, base, spec.Granularity, window)

	target := cur + float64(dir)*step
	clamped := false
	if target > hi {
		target, clamped = hi, true
	}
	if target < lo {
		target, clamped = lo, true
	}
	next, err := state.With(rule.Param, target)
	if err != nil {
		// The effective bounds already fold in the invariant, so this only
		// triggers on rounding at the edge; revert and treat as exhausted.
		logrus.Warnf("tuner: rejected %s=%g: %v", rule.Param, target, err)
		return Decision{}, false
	}
	newVal, _ := next.Get(rule.Param)
	if math.Abs(newVal-cur) <= valueEpsilon {
		return Decision{}, false
	}

	sign := "+"
	if dir == Decrease {
		sign = "-"
	}
	just := fmt.Sprintf("%s:%s%s%.4g", problem.Category, rule.Param, sign, math.Abs(newVal-cur))
	if damped {
		just += ",damped"
	}
	if clamped {
		just += ",clamped"
	}
	return Decision{
		State: next,
		Adjustment: Adjustment{
			Param:         rule.Param,
			Old:           cur,
			New:           newVal,
			Step:          step,
			Direction:     dir,
			Justification: just,
			Damped:        damped,
			Clamped:       clamped,
		},
	}, true
}

// dampStep halves base once for every move of param in the direction
// opposite to dir found in window, never going below granularity. The result
// is a whole multiple of granularity.
func dampStep(param string, dir Direction, base, granularity float64, window []AttemptRecord) (float64, bool) {
	reversals := 0
	for _, rec := range window {
		if rec.Adjustment != nil && rec.Adjustment.Param == param && rec.Adjustment.Direction == -dir {
			reversals++
		}
	}
	if reversals == 0 {
		return base, false
	}
	step := base / math.Pow(2, float64(reversals))
	step = math.Floor(step/granularity+valueEpsilon) * granularity
	return max(step, granularity), true
}

func lastN(recs []AttemptRecord, n int) []AttemptRecord {
	if len(recs) <= n {
		return recs
	}
	return recs[len(recs)-n:]
}
