package flow

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMaxIterations is the attempt budget of a convergence run.
const DefaultMaxIterations = 10

// TuningPolicy holds every configurable constant of a convergence run,
// loadable from a YAML file. Nil pointer fields mean "not set in YAML" and
// keep the built-in default; a rules entry replaces that category's
// candidates wholesale.
type TuningPolicy struct {
	MaxIterations   *int                        `yaml:"max_iterations"`
	HistoryWindow   *int                        `yaml:"history_window"`
	MaxParseRetries *int                        `yaml:"max_parse_retries"`
	TargetStage     string                      `yaml:"target_stage"`
	Thresholds      *Thresholds                 `yaml:"thresholds"`
	Parameters      map[string]ParamOverride    `yaml:"parameters"`
	Rules           map[string][]AdjustmentRule `yaml:"rules"`
}

// ParamOverride adjusts one declared parameter.
type ParamOverride struct {
	Min         *float64 `yaml:"min"`
	Max         *float64 `yaml:"max"`
	Default     *float64 `yaml:"default"`
	Step        *float64 `yaml:"step"`
	Granularity *float64 `yaml:"granularity"`
}

// ResolvedPolicy is a TuningPolicy merged over the defaults and validated.
type ResolvedPolicy struct {
	MaxIterations   int
	HistoryWindow   int
	MaxParseRetries int
	TargetStage     Stage
	Thresholds      Thresholds
	Space           *ParamSpace
	Rules           RuleTable
}

// LoadTuningPolicy reads and parses a YAML tuning policy file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadTuningPolicy(path string) (*TuningPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tuning policy: %w", err)
	}
	var p TuningPolicy
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing tuning policy: %w", err)
	}
	return &p, nil
}

// DefaultPolicy returns the built-in policy with nothing overridden.
func DefaultPolicy() ResolvedPolicy {
	r, err := (&TuningPolicy{}).Resolve()
	if err != nil {
		panic(fmt.Sprintf("default tuning policy is invalid: %v", err))
	}
	return r
}

// Resolve merges the policy over the defaults and validates the result.
// A nil receiver resolves to the defaults.
func (p *TuningPolicy) Resolve() (ResolvedPolicy, error) {
	if p == nil {
		p = &TuningPolicy{}
	}
	r := ResolvedPolicy{
		MaxIterations:   DefaultMaxIterations,
		HistoryWindow:   DefaultHistoryWindow,
		MaxParseRetries: DefaultMaxParseRetries,
		TargetStage:     StageSignoff,
		Thresholds:      DefaultThresholds(),
	}
	if p.MaxIterations != nil {
		if *p.MaxIterations < 1 {
			return ResolvedPolicy{}, fmt.Errorf("max_iterations must be at least 1, got %d", *p.MaxIterations)
		}
		r.MaxIterations = *p.MaxIterations
	}
	if p.HistoryWindow != nil {
		if *p.HistoryWindow < 1 {
			return ResolvedPolicy{}, fmt.Errorf("history_window must be at least 1, got %d", *p.HistoryWindow)
		}
		r.HistoryWindow = *p.HistoryWindow
	}
	if p.MaxParseRetries != nil {
		if *p.MaxParseRetries < 0 {
			return ResolvedPolicy{}, fmt.Errorf("max_parse_retries must be non-negative, got %d", *p.MaxParseRetries)
		}
		r.MaxParseRetries = *p.MaxParseRetries
	}
	if p.TargetStage != "" {
		if !IsValidStage(p.TargetStage) {
			return ResolvedPolicy{}, fmt.Errorf("unknown target_stage %q", p.TargetStage)
		}
		r.TargetStage = Stage(p.TargetStage)
	}
	if p.Thresholds != nil {
		r.Thresholds = *p.Thresholds
	}
	if err := r.Thresholds.Validate(); err != nil {
		return ResolvedPolicy{}, fmt.Errorf("thresholds: %w", err)
	}

	specs := DefaultParamSpecs()
	for name, o := range p.Parameters {
		idx := -1
		for i := range specs {
			if specs[i].Name == name {
				idx = i
			}
		}
		if idx < 0 {
			return ResolvedPolicy{}, fmt.Errorf("parameters: unknown parameter %q", name)
		}
		applyOverride(&specs[idx], o)
	}
	space, err := NewParamSpace(specs)
	if err != nil {
		return ResolvedPolicy{}, fmt.Errorf("parameters: %w", err)
	}
	r.Space = space

	r.Rules = DefaultRuleTable()
	for cat, rules := range p.Rules {
		r.Rules[Category(cat)] = rules
	}
	if err := r.Rules.Validate(space); err != nil {
		return ResolvedPolicy{}, err
	}
	return r, nil
}

func applyOverride(s *ParamSpec, o ParamOverride) {
	if o.Min != nil {
		s.Min = *o.Min
	}
	if o.Max != nil {
		s.Max = *o.Max
	}
	if o.Default != nil {
		s.Default = *o.Default
	}
	if o.Step != nil {
		s.Step = *o.Step
	}
	if o.Granularity != nil {
		s.Granularity = *o.Granularity
	}
}

// NewClassifier builds the policy's Classifier.
func (r ResolvedPolicy) NewClassifier() *Classifier {
	return NewClassifier(r.Thresholds, r.TargetStage)
}

// NewTuner builds the policy's Tuner.
func (r ResolvedPolicy) NewTuner() *Tuner {
	return NewTuner(r.Rules, r.HistoryWindow, r.MaxParseRetries)
}
