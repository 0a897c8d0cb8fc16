package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/configdoc"
)

func initialState(t *testing.T, values map[string]float64) flow.ParameterState {
	t.Helper()
	st, err := flow.NewParameterState(flow.DefaultParamSpace(), values)
	require.NoError(t, err)
	return st
}

func newTestOrchestrator(t *testing.T, runner FlowRunner, initial flow.ParameterState, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{
		Policy:  flow.DefaultPolicy(),
		Runner:  runner,
		Initial: initial,
		WorkDir: t.TempDir(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_TimingConvergesInTwoAttempts(t *testing.T) {
	// GIVEN util=50, density=0.55, clock=10 and a flow that meets timing at 11 ns
	runner := &scriptedRunner{script: timingClosesAt(11)}
	initial := initialState(t, map[string]float64{
		flow.ParamCoreUtilization: 50,
		flow.ParamTargetDensity:   0.55,
		flow.ParamClockPeriod:     10,
	})
	o := newTestOrchestrator(t, runner, initial, nil)

	// WHEN the run executes
	sum, err := o.Run(context.Background())

	// THEN the first attempt relaxes the clock and the second passes
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, sum.Outcome)
	assert.Equal(t, 2, sum.Iterations)
	assert.Equal(t, StateTerminate, o.State())
	clk, _ := sum.FinalParams.Get(flow.ParamClockPeriod)
	assert.Equal(t, 11.0, clk)
	assert.Nil(t, sum.RootCause)
	assert.NotEmpty(t, sum.RunID)

	require.Len(t, sum.History, 2)
	first := sum.History[0]
	require.NotNil(t, first.Adjustment)
	assert.Equal(t, "timing:clock_period+1", first.Adjustment.Justification)
	require.NotEmpty(t, first.Problems)
	assert.Equal(t, flow.CategoryTiming, first.Problems[0].Category)
	assert.InDelta(t, 0.5, first.Problems[0].Severity, 1e-9)
	assert.True(t, sum.History[1].Success)
	assert.Nil(t, sum.History[1].Adjustment)

	require.Equal(t, 2, runner.callCount())
	assert.Equal(t, 1, runner.calls[0].Attempt)
	assert.Equal(t, flow.StageSignoff, runner.calls[0].Through())
	assert.Equal(t, "attempt-002", filepath.Base(runner.calls[1].WorkDir))
	assert.Equal(t, 2, sum.AttemptDurations.Count)
}

func TestOrchestrator_DRCAtDensityFloorIsExhausted(t *testing.T) {
	// GIVEN 12 DRC violations with density already at core_utilization/100
	runner := &scriptedRunner{script: func(RunRequest) (map[string]string, error) {
		return reports(0.25, 12), nil
	}}
	initial := initialState(t, map[string]float64{flow.ParamCoreUtilization: 50, flow.ParamTargetDensity: 0.5})
	o := newTestOrchestrator(t, runner, initial, nil)

	sum, err := o.Run(context.Background())

	// THEN no adjustment is possible and DRC is named as the root cause
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, sum.Outcome)
	assert.Equal(t, 1, sum.Iterations)
	require.NotNil(t, sum.RootCause)
	assert.Equal(t, flow.CategoryDRC, sum.RootCause.Category)
	assert.Equal(t, 12.0, sum.RootCause.Value)
	assert.Equal(t, []string{flow.ParamTargetDensity}, sum.ExhaustedParams)
	assert.True(t, sum.FinalParams.Equal(initial))
}

func TestOrchestrator_BudgetExceeded(t *testing.T) {
	runner := &scriptedRunner{script: timingClosesAt(50)}
	policy := flow.DefaultPolicy()
	policy.MaxIterations = 3
	o := newTestOrchestrator(t, runner, initialState(t, nil), func(c *Config) { c.Policy = policy })

	sum, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, OutcomeBudgetExceeded, sum.Outcome)
	assert.Equal(t, 3, sum.Iterations)
	assert.Equal(t, 3, runner.callCount())
	clk, _ := sum.FinalParams.Get(flow.ParamClockPeriod)
	assert.Equal(t, 12.0, clk, "the last attempt is not tuned")
	require.NotNil(t, sum.RootCause)
	assert.Equal(t, flow.CategoryTiming, sum.RootCause.Category)
}

func TestOrchestrator_CancelledBeforeFirstAttempt(t *testing.T) {
	runner := &scriptedRunner{script: timingClosesAt(11)}
	o := newTestOrchestrator(t, runner, initialState(t, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := o.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, sum.Outcome)
	assert.Equal(t, 0, sum.Iterations)
	assert.Equal(t, 0, runner.callCount())
}

func TestOrchestrator_CancelDuringAttemptLetsItFinish(t *testing.T) {
	// GIVEN a cancellation that arrives while attempt 1 is running
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &scriptedRunner{
		script: timingClosesAt(11),
		onRun: func(req RunRequest) {
			if req.Attempt == 1 {
				cancel()
			}
		},
	}
	o := newTestOrchestrator(t, runner, initialState(t, nil), nil)

	sum, err := o.Run(ctx)

	// THEN attempt 1 completes and is tuned, and no attempt 2 starts
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, sum.Outcome)
	assert.Equal(t, 1, sum.Iterations)
	assert.Equal(t, 1, runner.callCount())
	assert.NoError(t, runner.ctxErrs[0], "the flow never sees the cancellation")
	require.NotNil(t, sum.History[0].Adjustment)
	clk, _ := sum.FinalParams.Get(flow.ParamClockPeriod)
	assert.Equal(t, 11.0, clk)
}

func TestOrchestrator_FlowCrashRetriesThenExhausts(t *testing.T) {
	// GIVEN a flow that always dies after placement
	runner := &scriptedRunner{script: crashesAfterPlacement}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := newTestOrchestrator(t, runner, initialState(t, nil), func(c *Config) { c.Metrics = metrics })

	sum, err := o.Run(context.Background())

	// THEN the configuration is retried max_parse_retries times before giving up
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, sum.Outcome)
	assert.Equal(t, flow.DefaultMaxParseRetries+1, sum.Iterations)
	require.NotNil(t, sum.RootCause)
	assert.Equal(t, flow.CategoryParseFailure, sum.RootCause.Category)
	assert.Equal(t, flow.StageCTS, sum.RootCause.Stage)
	assert.Empty(t, sum.ExhaustedParams)
	for _, rec := range sum.History {
		assert.Contains(t, rec.RunError, "exit status 1")
		assert.Len(t, rec.Records, 3)
	}

	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.Attempts))
	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.RunFailures))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.Adjustments.WithLabelValues("retry", "hold")))
	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.Problems.WithLabelValues(string(flow.CategoryParseFailure))))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Outcomes.WithLabelValues(string(OutcomeExhausted))))
}

func TestOrchestrator_PersistsThroughFileStore(t *testing.T) {
	// GIVEN a config document with clock_period=10
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
    "DESIGN_NAME": "spm",
    "CLOCK_PERIOD": 10,
    "FP_CORE_UTIL": 50
}
`), 0o644))
	policy := flow.DefaultPolicy()
	store, err := configdoc.NewFileStore(configPath, policy.Space)
	require.NoError(t, err)
	runner := &scriptedRunner{script: timingClosesAt(11)}
	o, err := NewOrchestrator(Config{Policy: policy, Runner: runner, Store: store, WorkDir: filepath.Join(dir, "runs")})
	require.NoError(t, err)

	// WHEN the run converges
	sum, err := o.Run(context.Background())

	// THEN the document carries the tuned clock and nothing else changed
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, sum.Outcome)
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, `{
    "DESIGN_NAME": "spm",
    "CLOCK_PERIOD": 11,
    "FP_CORE_UTIL": 50
}
`, string(data))
	clk, _ := runner.calls[1].Params.Get(flow.ParamClockPeriod)
	assert.Equal(t, 11.0, clk, "attempt 2 reads the stored value")
}

func TestOrchestrator_UnreadableStoreFails(t *testing.T) {
	store, err := configdoc.NewFileStore(filepath.Join(t.TempDir(), "missing.json"), flow.DefaultParamSpace())
	require.NoError(t, err)
	o, err := NewOrchestrator(Config{Runner: &scriptedRunner{script: timingClosesAt(1)}, Store: store, WorkDir: t.TempDir()})
	require.NoError(t, err)

	_, err = o.Run(context.Background())

	assert.ErrorContains(t, err, "reading initial parameters")
}

func TestNewOrchestrator_Validation(t *testing.T) {
	runner := &scriptedRunner{script: timingClosesAt(1)}
	initial := initialState(t, nil)
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no runner", Config{Initial: initial, WorkDir: "w"}, "runner"},
		{"no parameters", Config{Runner: runner, WorkDir: "w"}, "initial state"},
		{"no work dir", Config{Runner: runner, Initial: initial}, "work directory"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOrchestrator(tc.cfg)
			assert.ErrorContains(t, err, tc.want)
		})
	}

	policy := flow.DefaultPolicy()
	policy.MaxIterations = 0
	_, err := NewOrchestrator(Config{Policy: policy, Runner: runner, Initial: initial, WorkDir: "w"})
	assert.ErrorContains(t, err, "max iterations")
}

func TestOrchestrator_RunTwicePanics(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedRunner{script: timingClosesAt(1)}, initialState(t, nil), nil)
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Panics(t, func() { _, _ = o.Run(context.Background()) })
}
