package flow

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// ParamCategory groups parameters by the flow stage they tune.
type ParamCategory string

const (
	ParamSynthesis ParamCategory = "synthesis-tuning"
	ParamFloorplan ParamCategory = "floorplan-tuning"
	ParamPlacement ParamCategory = "placement-tuning"
	ParamCTS       ParamCategory = "cts-tuning"
	ParamRouting   ParamCategory = "routing-tuning"
)

// ParamKind selects how a parameter's value is represented and stepped.
type ParamKind string

const (
	KindContinuous ParamKind = "continuous"
	KindInteger    ParamKind = "integer"
	KindTier       ParamKind = "tier" // value is an index into Tiers
)

// Parameter names known to the default parameter space and rule table.
const (
	ParamClockPeriod       = "clock_period"
	ParamSynthStrategy     = "synth_strategy"
	ParamCoreUtilization   = "core_utilization"
	ParamTargetDensity     = "placement_target_density"
	ParamCTSTargetSkew     = "cts_target_skew"
	ParamDiodeInsertion    = "diode_insertion_strategy"
	ParamRoutingAdjustment = "routing_adjustment_margin"
)

// valueEpsilon absorbs float drift when comparing parameter values.
const valueEpsilon = 1e-9

// ParamSpec declares one tunable parameter.
type ParamSpec struct {
	Name        string
	Key         string // key in the flow's config document
	Category    ParamCategory
	Kind        ParamKind
	Min         float64
	Max         float64
	Default     float64
	Step        float64 // base step used by the Tuner
	Granularity float64 // smallest step damping may reach
	Tiers       []string
}

// TierName returns the tier label for an index value.
func (s ParamSpec) TierName(v float64) string {
	i := int(math.Round(v))
	if i < 0 || i >= len(s.Tiers) {
		return ""
	}
	return s.Tiers[i]
}

// TierIndex returns the index of a tier label, or -1.
func (s ParamSpec) TierIndex(name string) int {
	return slices.Index(s.Tiers, name)
}

func (s ParamSpec) normalize(v float64) float64 {
	switch s.Kind {
	case KindInteger, KindTier:
		return math.Round(v)
	default:
		// Round through the decimal form so 0.55-0.05 stores as 0.5.
		r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 9, 64), 64)
		return r
	}
}

func (s ParamSpec) validate() error {
	if s.Name == "" || s.Key == "" {
		return fmt.Errorf("parameter needs both name and key, got name=%q key=%q", s.Name, s.Key)
	}
	switch s.Kind {
	case KindContinuous, KindInteger:
	case KindTier:
		if len(s.Tiers) == 0 {
			return fmt.Errorf("%s: tier parameter needs at least one tier", s.Name)
		}
		if s.Min != 0 || s.Max != float64(len(s.Tiers)-1) {
			return fmt.Errorf("%s: tier range must be [0, %d]", s.Name, len(s.Tiers)-1)
		}
	default:
		return fmt.Errorf("%s: unknown kind %q", s.Name, s.Kind)
	}
	for _, v := range []float64{s.Min, s.Max, s.Default, s.Step, s.Granularity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: bounds and steps must be finite", s.Name)
		}
	}
	if s.Min > s.Max {
		return fmt.Errorf("%s: min %g exceeds max %g", s.Name, s.Min, s.Max)
	}
	if s.Default < s.Min || s.Default > s.Max {
		return fmt.Errorf("%s: default %g outside [%g, %g]", s.Name, s.Default, s.Min, s.Max)
	}
	if s.Step <= 0 || s.Granularity <= 0 || s.Granularity > s.Step {
		return fmt.Errorf("%s: need 0 < granularity <= step, got granularity=%g step=%g", s.Name, s.Granularity, s.Step)
	}
	return nil
}

// ParamSpace is the immutable set of declared parameters shared by every
// ParameterState of a run.
type ParamSpace struct {
	specs []ParamSpec
	index map[string]int
}

// NewParamSpace validates specs and builds a ParamSpace.
func NewParamSpace(specs []ParamSpec) (*ParamSpace, error) {
	ps := &ParamSpace{index: make(map[string]int, len(specs))}
	keys := make(map[string]bool, len(specs))
	for _, s := range specs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := ps.index[s.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", s.Name)
		}
		if keys[s.Key] {
			return nil, fmt.Errorf("duplicate config key %q", s.Key)
		}
		keys[s.Key] = true
		s.Tiers = slices.Clone(s.Tiers)
		ps.index[s.Name] = len(ps.specs)
		ps.specs = append(ps.specs, s)
	}
	return ps, nil
}

// Spec returns the declaration of the named parameter.
func (ps *ParamSpace) Spec(name string) (ParamSpec, bool) {
	i, ok := ps.index[name]
	if !ok {
		return ParamSpec{}, false
	}
	return ps.specs[i], true
}

// Specs returns all declarations in declaration order.
func (ps *ParamSpace) Specs() []ParamSpec {
	return slices.Clone(ps.specs)
}

// SynthStrategyTiers orders synthesis strategies from most area-oriented to
// most delay-aggressive.
var SynthStrategyTiers = []string{
	"AREA 3", "AREA 2", "AREA 1", "AREA 0",
	"DELAY 0", "DELAY 1", "DELAY 2", "DELAY 3", "DELAY 4",
}

// DefaultParamSpecs returns the default parameter declarations, keyed to
// OpenLane configuration variables.
func DefaultParamSpecs() []ParamSpec {
	return []ParamSpec{
		{Name: ParamClockPeriod, Key: "CLOCK_PERIOD", Category: ParamSynthesis, Kind: KindContinuous,
			Min: 1, Max: 100, Default: 10, Step: 1.0, Granularity: 0.05},
		{Name: ParamSynthStrategy, Key: "SYNTH_STRATEGY", Category: ParamSynthesis, Kind: KindTier,
			Min: 0, Max: float64(len(SynthStrategyTiers) - 1), Default: 3, Step: 1, Granularity: 1,
			Tiers: SynthStrategyTiers},
		{Name: ParamCoreUtilization, Key: "FP_CORE_UTIL", Category: ParamFloorplan, Kind: KindInteger,
			Min: 20, Max: 80, Default: 50, Step: 5, Granularity: 1},
		{Name: ParamTargetDensity, Key: "PL_TARGET_DENSITY", Category: ParamPlacement, Kind: KindContinuous,
			Min: 0.2, Max: 0.95, Default: 0.55, Step: 0.05, Granularity: 0.005},
		{Name: ParamCTSTargetSkew, Key: "CTS_TARGET_SKEW", Category: ParamCTS, Kind: KindContinuous,
			Min: 50, Max: 400, Default: 200, Step: 50, Granularity: 5},
		{Name: ParamDiodeInsertion, Key: "DIODE_INSERTION_STRATEGY", Category: ParamRouting, Kind: KindInteger,
			Min: 0, Max: 5, Default: 0, Step: 1, Granularity: 1},
		{Name: ParamRoutingAdjustment, Key: "GLB_RT_ADJUSTMENT", Category: ParamRouting, Kind: KindContinuous,
			Min: 0, Max: 0.5, Default: 0.1, Step: 0.05, Granularity: 0.005},
	}
}

// DefaultParamSpace returns the ParamSpace built from DefaultParamSpecs.
func DefaultParamSpace() *ParamSpace {
	ps, err := NewParamSpace(DefaultParamSpecs())
	if err != nil {
		panic(fmt.Sprintf("default parameter space is invalid: %v", err))
	}
	return ps
}

// InvariantViolation reports a parameter value that breaks its declared range
// or a cross-parameter constraint.
type InvariantViolation struct {
	Param  string
	Value  float64
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invalid %s=%g: %s", e.Param, e.Value, e.Reason)
}

// ParameterState is one immutable configuration of the flow. Every mutation
// returns a new state; the receiver is never modified.
type ParameterState struct {
	space  *ParamSpace
	values map[string]float64
}

// NewParameterState builds a state over space. Parameters absent from values
// take their declared default. Unknown names and invalid values are errors.
func NewParameterState(space *ParamSpace, values map[string]float64) (ParameterState, error) {
	vals := make(map[string]float64, len(space.specs))
	for _, s := range space.specs {
		vals[s.Name] = s.Default
	}
	for name, v := range values {
		s, ok := space.Spec(name)
		if !ok {
			return ParameterState{}, fmt.Errorf("unknown parameter %q", name)
		}
		vals[name] = s.normalize(v)
	}
	st := ParameterState{space: space, values: vals}
	if err := st.Validate(); err != nil {
		return ParameterState{}, err
	}
	return st, nil
}

// Space returns the declared parameter space.
func (p ParameterState) Space() *ParamSpace { return p.space }

// Get returns the current value of name.
func (p ParameterState) Get(name string) (float64, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Format renders a value the way the config document stores it: tier names
// for tier parameters, plain numbers otherwise.
func (p ParameterState) Format(name string) string {
	s, ok := p.space.Spec(name)
	if !ok {
		return ""
	}
	v := p.values[name]
	if s.Kind == KindTier {
		return s.TierName(v)
	}
	return fmt.Sprintf("%g", v)
}

// Values returns a copy of all parameter values.
func (p ParameterState) Values() map[string]float64 {
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Bounds returns the effective [lo, hi] range of name given the other
// parameters' current values: the declared range narrowed by the
// density/utilization invariant.
func (p ParameterState) Bounds(name string) (lo, hi float64) {
	s, _ := p.space.Spec(name)
	lo, hi = s.Min, s.Max
	switch name {
	case ParamTargetDensity:
		if util, ok := p.values[ParamCoreUtilization]; ok {
			lo = max(lo, util/100)
		}
	case ParamCoreUtilization:
		if dens, ok := p.values[ParamTargetDensity]; ok {
			hi = min(hi, math.Floor(dens*100+valueEpsilon))
		}
	}
	return lo, hi
}

// With returns a copy of p with name set to v. The receiver is unchanged.
// Values outside the declared range or breaking the density/utilization
// invariant are rejected with an *InvariantViolation.
func (p ParameterState) With(name string, v float64) (ParameterState, error) {
	s, ok := p.space.Spec(name)
	if !ok {
		return ParameterState{}, fmt.Errorf("unknown parameter %q", name)
	}
	next := ParameterState{space: p.space, values: p.Values()}
	next.values[name] = s.normalize(v)
	if err := next.Validate(); err != nil {
		return ParameterState{}, err
	}
	return next, nil
}

// Validate checks every value against its range and the cross-parameter
// invariant placement_target_density >= core_utilization/100.
func (p ParameterState) Validate() error {
	for _, s := range p.space.specs {
		v := p.values[s.Name]
		if math.IsNaN(v) || v < s.Min-valueEpsilon || v > s.Max+valueEpsilon {
			return &InvariantViolation{Param: s.Name, Value: v,
				Reason: fmt.Sprintf("outside valid range [%g, %g]", s.Min, s.Max)}
		}
	}
	dens, hasDens := p.values[ParamTargetDensity]
	util, hasUtil := p.values[ParamCoreUtilization]
	if hasDens && hasUtil && dens < util/100-valueEpsilon {
		return &InvariantViolation{Param: ParamTargetDensity, Value: dens,
			Reason: fmt.Sprintf("must be >= core_utilization/100 = %g", util/100)}
	}
	return nil
}

// Equal reports whether two states hold the same values.
func (p ParameterState) Equal(o ParameterState) bool {
	if len(p.values) != len(o.values) {
		return false
	}
	for k, v := range p.values {
		ov, ok := o.values[k]
		if !ok || math.Abs(ov-v) > valueEpsilon {
			return false
		}
	}
	return true
}

// MarshalJSON renders the state with tier parameters by name.
func (p ParameterState) MarshalJSON() ([]byte, error) {
	if p.space == nil {
		return []byte("null"), nil
	}
	out := make(map[string]any, len(p.values))
	for _, s := range p.space.specs {
		v := p.values[s.Name]
		switch s.Kind {
		case KindTier:
			out[s.Name] = s.TierName(v)
		case KindInteger:
			out[s.Name] = int64(v)
		default:
			out[s.Name] = v
		}
	}
	return json.Marshal(out)
}
