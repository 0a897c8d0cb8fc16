package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// AdjustMode selects how an AdjustmentRule moves its parameter.
type AdjustMode string

const (
	ModeStep  AdjustMode = "step"  // move by a step in Direction
	ModeForce AdjustMode = "force" // set to Target; a Direction makes it one-way
	ModeRetry AdjustMode = "retry" // re-run the same configuration
)

// AdjustmentRule is one candidate fix for a problem category.
type AdjustmentRule struct {
	Param     string     `yaml:"param,omitempty"`
	Mode      AdjustMode `yaml:"mode"`
	Direction Direction  `yaml:"direction,omitempty"`
	Step      float64    `yaml:"step,omitempty"` // 0 = the parameter's declared step
	Target    float64    `yaml:"target,omitempty"`
}

// RuleTable maps a problem category to its candidate adjustments, tried in
// order. A category with no entry cannot be fixed by tuning.
type RuleTable map[Category][]AdjustmentRule

// DefaultRuleTable returns the built-in adjustment policy.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		CategoryTiming: {
			{Param: ParamClockPeriod, Mode: ModeStep, Direction: Increase},
			{Param: ParamSynthStrategy, Mode: ModeStep, Direction: Increase},
		},
		CategoryArea: {
			{Param: ParamSynthStrategy, Mode: ModeStep, Direction: Decrease},
		},
		CategoryPlacementOverflow: {
			{Param: ParamTargetDensity, Mode: ModeStep, Direction: Decrease},
			{Param: ParamCoreUtilization, Mode: ModeStep, Direction: Decrease},
		},
		CategoryCongestion: {
			{Param: ParamCoreUtilization, Mode: ModeStep, Direction: Decrease},
			{Param: ParamRoutingAdjustment, Mode: ModeStep, Direction: Increase},
		},
		CategoryDRC: {
			{Param: ParamTargetDensity, Mode: ModeStep, Direction: Decrease},
		},
		CategoryClockSkew: {
			{Param: ParamCTSTargetSkew, Mode: ModeStep, Direction: Decrease},
		},
		CategoryAntenna: {
			{Param: ParamDiodeInsertion, Mode: ModeForce, Direction: Increase, Target: 3},
		},
		CategoryParseFailure: {
			{Mode: ModeRetry},
		},
	}
}

// Validate checks every rule against the parameter space.
func (rt RuleTable) Validate(space *ParamSpace) error {
	for cat, rules := range rt {
		if !validCategories[cat] {
			return fmt.Errorf("rules: unknown category %q", cat)
		}
		for i, r := range rules {
			prefix := fmt.Sprintf("rules.%s[%d]", cat, i)
			if r.Mode == ModeRetry {
				continue
			}
			s, ok := space.Spec(r.Param)
			if !ok {
				return fmt.Errorf("%s: unknown parameter %q", prefix, r.Param)
			}
			switch r.Mode {
			case ModeStep:
				if r.Direction != Increase && r.Direction != Decrease {
					return fmt.Errorf("%s: step rule needs direction increase or decrease", prefix)
				}
				if r.Step < 0 {
					return fmt.Errorf("%s: step must be non-negative, got %g", prefix, r.Step)
				}
			case ModeForce:
				if r.Target < s.Min || r.Target > s.Max {
					return fmt.Errorf("%s: target %g outside [%g, %g]", prefix, r.Target, s.Min, s.Max)
				}
			default:
				return fmt.Errorf("%s: unknown mode %q", prefix, r.Mode)
			}
		}
	}
	return nil
}

// UnmarshalYAML accepts "increase" / "decrease" (or +1 / -1).
func (d *Direction) UnmarshalYAML(node *yaml.Node) error {
	switch node.Value {
	case "increase", "+1", "1":
		*d = Increase
	case "decrease", "-1":
		*d = Decrease
	case "", "hold", "0":
		*d = Hold
	default:
		return fmt.Errorf("line %d: unknown direction %q", node.Line, node.Value)
	}
	return nil
}

// MarshalYAML renders the direction by name.
func (d Direction) MarshalYAML() (any, error) {
	return d.String(), nil
}
