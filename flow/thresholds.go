package flow

import (
	"fmt"
	"math"
)

// Thresholds is the passing-threshold table the Classifier evaluates every
// known metric against. A zero MaxSkewPs or MaxAreaUm2 disables that check.
type Thresholds struct {
	MinSlackNs            float64 `yaml:"min_slack_ns"`
	MinHoldSlackNs        float64 `yaml:"min_hold_slack_ns"`
	MaxDensityOverflowPct float64 `yaml:"max_density_overflow_pct"`
	MaxRoutingOverflowPct float64 `yaml:"max_routing_overflow_pct"`
	MaxSkewPs             float64 `yaml:"max_skew_ps"`
	MaxAreaUm2            float64 `yaml:"max_area_um2"`
	MaxDRCViolations      float64 `yaml:"max_drc_violations"`
	MaxAntennaViolations  float64 `yaml:"max_antenna_violations"`
}

// DefaultThresholds returns the strict signoff thresholds: no negative
// setup or hold slack, no overflow, no DRC or antenna violations.
func DefaultThresholds() Thresholds {
	return Thresholds{}
}

// Validate checks that every threshold is finite and that limits are
// non-negative.
func (t Thresholds) Validate() error {
	checks := []struct {
		name   string
		val    float64
		nonNeg bool
	}{
		{"min_slack_ns", t.MinSlackNs, false},
		{"min_hold_slack_ns", t.MinHoldSlackNs, false},
		{"max_density_overflow_pct", t.MaxDensityOverflowPct, true},
		{"max_routing_overflow_pct", t.MaxRoutingOverflowPct, true},
		{"max_skew_ps", t.MaxSkewPs, true},
		{"max_area_um2", t.MaxAreaUm2, true},
		{"max_drc_violations", t.MaxDRCViolations, true},
		{"max_antenna_violations", t.MaxAntennaViolations, true},
	}
	for _, c := range checks {
		if math.IsNaN(c.val) || math.IsInf(c.val, 0) {
			return fmt.Errorf("%s must be a finite number, got %f", c.name, c.val)
		}
		if c.nonNeg && c.val < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", c.name, c.val)
		}
	}
	return nil
}

// check describes one row of the threshold table: which metric it reads,
// which category it raises, and how to compute severity. violated returns
// the severity and true when the observed value fails the threshold.
type check struct {
	metric   string
	category Category
	limit    func(Thresholds) (float64, bool) // threshold and whether the check is enabled
	violated func(v, limit float64) (float64, bool)
}

func above(v, limit float64) (float64, bool) { return v - limit, v > limit }

func below(v, limit float64) (float64, bool) { return limit - v, v < limit }

// thresholdTable lists the numeric checks in a fixed order so classification
// output is stable.
var thresholdTable = []check{
	{
		metric:   MetricWNS,
		category: CategoryTiming,
		limit:    func(t Thresholds) (float64, bool) { return t.MinSlackNs, true },
		violated: below,
	},
	{
		metric:   MetricWorstHoldSlack,
		category: CategoryTiming,
		limit:    func(t Thresholds) (float64, bool) { return t.MinHoldSlackNs, true },
		violated: below,
	},
	{
		metric:   MetricAreaUm2,
		category: CategoryArea,
		limit:    func(t Thresholds) (float64, bool) { return t.MaxAreaUm2, t.MaxAreaUm2 > 0 },
		violated: above,
	},
	{
		metric:   MetricDensityOverflow,
		category: CategoryPlacementOverflow,
		limit:    func(t Thresholds) (float64, bool) { return t.MaxDensityOverflowPct, true },
		violated: above,
	},
	{
		metric:   MetricSkewPs,
		category: CategoryClockSkew,
		limit:    func(t Thresholds) (float64, bool) { return t.MaxSkewPs, t.MaxSkewPs > 0 },
		violated: above,
	},
	{
		metric:   MetricRoutingOverflow,
		category: CategoryCongestion,
		limit:    func(t Thresholds) (float64, bool) { return t.MaxRoutingOverflowPct, true },
		violated: above,
	},
	{
		metric:   MetricDRCViolations,
		category: CategoryDRC,
		limit:    func(t Thresholds) (float64, bool) { return t.MaxDRCViolations, true },
		violated: above,
	},
	{
		metric:   MetricAntennaViolation,
		category: CategoryAntenna,
		limit:    func(t Thresholds) (float64, bool) { return t.MaxAntennaViolations, true },
		violated: above,
	},
}
