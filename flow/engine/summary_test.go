package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtune/flowtune/flow"
)

func TestSummary_PrintAndWriteJSON(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedRunner{script: timingClosesAt(11)}, initialState(t, nil), nil)
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	sum.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "=== Convergence Summary ===")
	assert.Contains(t, out, "Outcome       : SUCCESS")
	assert.Contains(t, out, "Iterations    : 2")
	assert.Contains(t, out, "CLOCK_PERIOD")
	assert.Contains(t, out, "=== Attempts ===")
	assert.Contains(t, out, "timing:clock_period+1")

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, sum.WriteJSON(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "SUCCESS", got["outcome"])
	assert.Equal(t, 2.0, got["iterations"])
	final := got["final_params"].(map[string]any)
	assert.Equal(t, 11.0, final[flow.ParamClockPeriod])
	assert.Equal(t, "AREA 0", final[flow.ParamSynthStrategy])
	assert.Len(t, got["history"], 2)
}

func TestSummary_PrintNamesRootCauseOnFailure(t *testing.T) {
	problem := flow.Problem{Category: flow.CategoryDRC, Severity: 12, Stage: flow.StageRouting}
	sum := &Summary{
		Outcome:         OutcomeExhausted,
		Iterations:      1,
		RootCause:       &problem,
		ExhaustedParams: []string{flow.ParamTargetDensity},
		History: []flow.AttemptRecord{{
			Iteration: 1,
			Problems:  []flow.Problem{problem},
			RunError:  "flow command failed\nsecond line",
		}},
	}

	var buf bytes.Buffer
	sum.Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "Root cause    : drc@routing")
	assert.Contains(t, out, "Exhausted     : placement_target_density")
	assert.Contains(t, out, "flow command failed")
	assert.NotContains(t, out, "second line")
}

func TestClampedParams_LatestAdjustmentWins(t *testing.T) {
	history := []flow.AttemptRecord{
		{Adjustment: &flow.Adjustment{Param: flow.ParamTargetDensity, Clamped: true}},
		{Adjustment: &flow.Adjustment{Param: flow.ParamClockPeriod, Clamped: true}},
		{Adjustment: &flow.Adjustment{Justification: "parse_failure:retry"}},
		{Adjustment: &flow.Adjustment{Param: flow.ParamTargetDensity}},
		{},
	}

	assert.Equal(t, []string{flow.ParamClockPeriod}, clampedParams(history))
}

func TestNewDistribution(t *testing.T) {
	assert.Equal(t, Distribution{}, NewDistribution(nil))

	d := NewDistribution([]float64{4, 1, 3, 2, 5})

	assert.Equal(t, 3.0, d.Mean)
	assert.Equal(t, 3.0, d.P50)
	assert.InDelta(t, 4.8, d.P95, 1e-12)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 5.0, d.Max)
	assert.Equal(t, 5, d.Count)

	dd := durationDistribution([]flow.AttemptRecord{{Duration: 2 * time.Second}, {Duration: 4 * time.Second}})
	assert.Equal(t, 3.0, dd.Mean)
}
