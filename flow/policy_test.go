package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, DefaultMaxIterations, p.MaxIterations)
	assert.Equal(t, DefaultHistoryWindow, p.HistoryWindow)
	assert.Equal(t, DefaultMaxParseRetries, p.MaxParseRetries)
	assert.Equal(t, StageSignoff, p.TargetStage)
	assert.Equal(t, DefaultThresholds(), p.Thresholds)
	assert.Len(t, p.Space.Specs(), len(DefaultParamSpecs()))
	assert.NoError(t, p.Rules.Validate(p.Space))
}

func TestLoadTuningPolicy_Overrides(t *testing.T) {
	// GIVEN a policy that overrides limits, a parameter and the timing rules
	path := writePolicy(t, `
max_iterations: 4
history_window: 2
max_parse_retries: 0
target_stage: routing
thresholds:
  min_slack_ns: -0.05
  max_skew_ps: 150
parameters:
  clock_period:
    max: 20
    step: 0.5
rules:
  timing:
    - param: synth_strategy
      mode: step
      direction: increase
`)

	// WHEN loaded and resolved
	tp, err := LoadTuningPolicy(path)
	require.NoError(t, err)
	p, err := tp.Resolve()
	require.NoError(t, err)

	// THEN each override lands and untouched values keep their defaults
	assert.Equal(t, 4, p.MaxIterations)
	assert.Equal(t, 2, p.HistoryWindow)
	assert.Equal(t, 0, p.MaxParseRetries)
	assert.Equal(t, StageRouting, p.TargetStage)
	assert.Equal(t, -0.05, p.Thresholds.MinSlackNs)
	assert.Equal(t, 150.0, p.Thresholds.MaxSkewPs)
	clk, _ := p.Space.Spec(ParamClockPeriod)
	assert.Equal(t, 20.0, clk.Max)
	assert.Equal(t, 0.5, clk.Step)
	assert.Equal(t, 1.0, clk.Min)
	require.Len(t, p.Rules[CategoryTiming], 1)
	assert.Equal(t, AdjustmentRule{Param: ParamSynthStrategy, Mode: ModeStep, Direction: Increase}, p.Rules[CategoryTiming][0])
	assert.Equal(t, DefaultRuleTable()[CategoryDRC], p.Rules[CategoryDRC])
	assert.Equal(t, StageRouting, p.NewClassifier().Target())
}

func TestLoadTuningPolicy_RejectsUnknownKeys(t *testing.T) {
	path := writePolicy(t, "max_iteration: 4\n")

	_, err := LoadTuningPolicy(path)

	assert.ErrorContains(t, err, "max_iteration")
}

func TestLoadTuningPolicy_MissingFile(t *testing.T) {
	_, err := LoadTuningPolicy(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.ErrorContains(t, err, "reading tuning policy")
}

func TestTuningPolicy_ResolveRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero iterations", "max_iterations: 0\n", "max_iterations"},
		{"zero window", "history_window: 0\n", "history_window"},
		{"negative retries", "max_parse_retries: -1\n", "max_parse_retries"},
		{"unknown stage", "target_stage: tapeout\n", "target_stage"},
		{"negative threshold", "thresholds:\n  max_drc_violations: -1\n", "max_drc_violations"},
		{"unknown parameter", "parameters:\n  fanout:\n    max: 4\n", "fanout"},
		{"default outside override", "parameters:\n  clock_period:\n    max: 5\n", "clock_period"},
		{"unknown category", "rules:\n  thermal:\n    - mode: retry\n", "thermal"},
		{"rule on unknown parameter", "rules:\n  drc:\n    - param: fanout\n      mode: step\n      direction: decrease\n", "fanout"},
		{"step rule without direction", "rules:\n  drc:\n    - param: placement_target_density\n      mode: step\n", "direction"},
		{"force target outside range", "rules:\n  antenna:\n    - param: diode_insertion_strategy\n      mode: force\n      target: 9\n", "target"},
		{"unknown mode", "rules:\n  drc:\n    - param: placement_target_density\n      mode: random\n", "mode"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tp, err := LoadTuningPolicy(writePolicy(t, tc.yaml))
			require.NoError(t, err)
			_, err = tp.Resolve()
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestTuningPolicy_NilResolvesToDefaults(t *testing.T) {
	var tp *TuningPolicy

	p, err := tp.Resolve()

	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, p.MaxIterations)
}

func TestDirection_YAML(t *testing.T) {
	var r AdjustmentRule
	require.NoError(t, yaml.Unmarshal([]byte("param: clock_period\nmode: step\ndirection: -1\n"), &r))
	assert.Equal(t, Decrease, r.Direction)

	out, err := yaml.Marshal(AdjustmentRule{Param: ParamClockPeriod, Mode: ModeStep, Direction: Increase})
	require.NoError(t, err)
	assert.Contains(t, string(out), "direction: increase")

	assert.Error(t, yaml.Unmarshal([]byte("direction: sideways\n"), &r))
}

func TestLoadTuningPolicy_ExampleFile(t *testing.T) {
	tp, err := LoadTuningPolicy(filepath.Join("..", "examples", "policy.yaml"))
	require.NoError(t, err)

	p, err := tp.Resolve()

	require.NoError(t, err)
	assert.Equal(t, 8, p.MaxIterations)
	assert.Equal(t, 250.0, p.Thresholds.MaxSkewPs)
	require.Len(t, p.Rules[CategoryCongestion], 2)
	assert.Equal(t, 2.0, p.Rules[CategoryCongestion][1].Step)
}
