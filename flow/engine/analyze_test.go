package engine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/internal/testutil"
)

func TestAnalyze_ProposesNextAdjustment(t *testing.T) {
	// GIVEN a finished run that missed timing
	dir := t.TempDir()
	testutil.WriteRun(t, dir, reports(-0.5, 0))
	params := initialState(t, nil)

	// WHEN analyzed
	a, err := Analyze(dir, flow.DefaultPolicy(), nil, params)

	// THEN the tuner's next step is reported without running anything
	require.NoError(t, err)
	assert.False(t, a.Success)
	assert.Len(t, a.Records, len(flow.AllStages))
	require.NotNil(t, a.Proposal)
	assert.Equal(t, flow.ParamClockPeriod, a.Proposal.Param)
	clk, _ := a.Next.Get(flow.ParamClockPeriod)
	assert.Equal(t, 11.0, clk)

	var buf bytes.Buffer
	a.Print(&buf)
	assert.Contains(t, buf.String(), "1. timing@signoff")
	assert.Contains(t, buf.String(), "Next adjustment: timing:clock_period+1")
}

func TestAnalyze_CleanRun(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, testutil.CleanReports())

	a, err := Analyze(dir, flow.DefaultPolicy(), nil, initialState(t, nil))

	require.NoError(t, err)
	assert.True(t, a.Success)
	assert.Nil(t, a.Proposal)
	var buf bytes.Buffer
	a.Print(&buf)
	assert.Contains(t, buf.String(), "Result: clean signoff")
}

func TestAnalyze_Exhausted(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, reports(0.25, 4))
	params := initialState(t, map[string]float64{flow.ParamCoreUtilization: 55, flow.ParamTargetDensity: 0.55})

	a, err := Analyze(dir, flow.DefaultPolicy(), nil, params)

	require.NoError(t, err)
	assert.Nil(t, a.Proposal)
	assert.Contains(t, a.Exhausted, "drc")
	var buf bytes.Buffer
	a.Print(&buf)
	assert.Contains(t, buf.String(), "No adjustment possible")
}
