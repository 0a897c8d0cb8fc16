package configdoc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtune/flowtune/flow"
)

const sampleJSON = `{
    "DESIGN_NAME": "spm",
    "VERILOG_FILES": "dir::src/*.v",
    "CLOCK_PERIOD": 10.0,
    "FP_CORE_UTIL": "45",
    "SYNTH_STRATEGY": "AREA 0",
    "pdk::sky130*": {"FP_CORE_UTIL": 40}
}
`

const sampleYAML = `# spm configuration
DESIGN_NAME: spm
CLOCK_PERIOD: 10.0   # ns
FP_CORE_UTIL: '45'
SYNTH_STRATEGY: "AREA 0"
PL_TARGET_DENSITY: 0.6
`

func mustState(t *testing.T, doc *Document) flow.ParameterState {
	t.Helper()
	st, err := doc.Params(flow.DefaultParamSpace())
	require.NoError(t, err)
	return st
}

func mustWith(t *testing.T, st flow.ParameterState, name string, v float64) flow.ParameterState {
	t.Helper()
	next, err := st.With(name, v)
	require.NoError(t, err)
	return next
}

func TestParams_JSON_ReadsNumbersStringsAndTiers(t *testing.T) {
	doc, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)

	st := mustState(t, doc)

	clock, _ := st.Get(flow.ParamClockPeriod)
	util, _ := st.Get(flow.ParamCoreUtilization)
	synth, _ := st.Get(flow.ParamSynthStrategy)
	dens, _ := st.Get(flow.ParamTargetDensity)
	assert.Equal(t, 10.0, clock)
	assert.Equal(t, 45.0, util, "numeric string is accepted")
	assert.Equal(t, "AREA 0", st.Format(flow.ParamSynthStrategy))
	assert.Equal(t, 3.0, synth)
	assert.Equal(t, 0.55, dens, "absent key takes the declared default")
}

func TestApply_UnchangedState_IsByteIdentical(t *testing.T) {
	for _, tc := range []struct {
		name   string
		text   string
		format Format
	}{
		{"json", sampleJSON, FormatJSON},
		{"yaml", sampleYAML, FormatYAML},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Parse([]byte(tc.text), tc.format)
			require.NoError(t, err)
			st := mustState(t, doc)

			require.NoError(t, doc.Apply(st))

			assert.Equal(t, tc.text, string(doc.Bytes()))
		})
	}
}

func TestApply_JSON_SplicesOnlyChangedValues(t *testing.T) {
	// GIVEN a document with a numeric and a string-typed numeric value
	doc, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	st := mustState(t, doc)

	// WHEN clock period and utilization change
	st = mustWith(t, st, flow.ParamClockPeriod, 9.5)
	st = mustWith(t, st, flow.ParamCoreUtilization, 40)
	require.NoError(t, doc.Apply(st))

	// THEN only those two value spans differ and each keeps its JSON type
	want := strings.Replace(sampleJSON, `"CLOCK_PERIOD": 10.0`, `"CLOCK_PERIOD": 9.5`, 1)
	want = strings.Replace(want, `"FP_CORE_UTIL": "45"`, `"FP_CORE_UTIL": "40"`, 1)
	assert.Equal(t, want, string(doc.Bytes()))
}

func TestApply_JSON_AddsMissingKeyAfterLastEntry(t *testing.T) {
	doc, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	st := mustWith(t, mustState(t, doc), flow.ParamTargetDensity, 0.6)

	require.NoError(t, doc.Apply(st))

	want := strings.Replace(sampleJSON,
		`{"FP_CORE_UTIL": 40}`+"\n}",
		`{"FP_CORE_UTIL": 40},`+"\n"+`    "PL_TARGET_DENSITY": 0.6`+"\n}", 1)
	assert.Equal(t, want, string(doc.Bytes()))
	assert.True(t, doc.Has("PL_TARGET_DENSITY"))
}

func TestApply_JSON_TierWrittenByName(t *testing.T) {
	doc, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	st := mustWith(t, mustState(t, doc), flow.ParamSynthStrategy, 5)

	require.NoError(t, doc.Apply(st))

	assert.Contains(t, string(doc.Bytes()), `"SYNTH_STRATEGY": "DELAY 1"`)
}

func TestApply_JSON_SingleLineObject(t *testing.T) {
	doc, err := Parse([]byte(`{"CLOCK_PERIOD": 10}`), FormatJSON)
	require.NoError(t, err)
	st := mustWith(t, mustState(t, doc), flow.ParamCTSTargetSkew, 150)

	require.NoError(t, doc.Apply(st))

	assert.Equal(t, `{"CLOCK_PERIOD": 10, "CTS_TARGET_SKEW": 150}`, string(doc.Bytes()))
}

func TestApply_YAML_KeepsCommentsAndQuoting(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	st := mustState(t, doc)
	st = mustWith(t, st, flow.ParamClockPeriod, 11)
	st = mustWith(t, st, flow.ParamCoreUtilization, 50)
	st = mustWith(t, st, flow.ParamSynthStrategy, 4)

	require.NoError(t, doc.Apply(st))

	want := `# spm configuration
DESIGN_NAME: spm
CLOCK_PERIOD: 11   # ns
FP_CORE_UTIL: '50'
SYNTH_STRATEGY: "DELAY 0"
PL_TARGET_DENSITY: 0.6
`
	assert.Equal(t, want, string(doc.Bytes()))
}

func TestApply_YAML_AppendsMissingKey(t *testing.T) {
	doc, err := Parse([]byte("CLOCK_PERIOD: 10"), FormatYAML)
	require.NoError(t, err)
	st := mustWith(t, mustState(t, doc), flow.ParamDiodeInsertion, 3)

	require.NoError(t, doc.Apply(st))

	assert.Equal(t, "CLOCK_PERIOD: 10\nDIODE_INSERTION_STRATEGY: 3\n", string(doc.Bytes()))
}

func TestParse_RejectsNonMappingDocuments(t *testing.T) {
	for _, tc := range []struct {
		name   string
		text   string
		format Format
	}{
		{"json array", `[1, 2]`, FormatJSON},
		{"json trailing", `{"A": 1} {}`, FormatJSON},
		{"json duplicate", `{"A": 1, "A": 2}`, FormatJSON},
		{"yaml list", "- a\n- b\n", FormatYAML},
		{"yaml flow mapping", "{CLOCK_PERIOD: 10}\n", FormatYAML},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.text), tc.format)
			assert.Error(t, err)
		})
	}
}

func TestParams_InvalidValues(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
	}{
		{"unknown tier", `{"SYNTH_STRATEGY": "TURBO"}`},
		{"not a number", `{"CLOCK_PERIOD": "fast"}`},
		{"out of range", `{"CLOCK_PERIOD": 0.5}`},
		{"invariant", `{"FP_CORE_UTIL": 70, "PL_TARGET_DENSITY": 0.5}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Parse([]byte(tc.text), FormatJSON)
			require.NoError(t, err)
			_, err = doc.Params(flow.DefaultParamSpace())
			assert.Error(t, err)
		})
	}
}

func TestParams_TierIndexAccepted(t *testing.T) {
	doc, err := Parse([]byte(`{"SYNTH_STRATEGY": 4}`), FormatJSON)
	require.NoError(t, err)
	st := mustWith(t, mustState(t, doc), flow.ParamSynthStrategy, 5)

	require.NoError(t, doc.Apply(st))

	assert.Equal(t, `{"SYNTH_STRATEGY": 5}`, string(doc.Bytes()))
}

func TestApply_QuotedTierIndexStaysQuoted(t *testing.T) {
	// GIVEN a tier stored as a quoted index
	doc, err := Parse([]byte(`{"SYNTH_STRATEGY": "3", "X": 1}`), FormatJSON)
	require.NoError(t, err)
	st := mustWith(t, mustState(t, doc), flow.ParamSynthStrategy, 4)

	// WHEN the tier is moved
	require.NoError(t, doc.Apply(st))

	// THEN the new index keeps the string representation
	assert.Equal(t, `{"SYNTH_STRATEGY": "4", "X": 1}`, string(doc.Bytes()))
}

func TestFileStore_SaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o644))

	store, err := NewFileStore(path, flow.DefaultParamSpace())
	require.NoError(t, err)
	st, err := store.Load()
	require.NoError(t, err)

	next := mustWith(t, st, flow.ParamClockPeriod, 12.25)
	require.NoError(t, store.Save(next))

	got, err := store.Load()
	require.NoError(t, err)
	assert.True(t, got.Equal(next))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"DESIGN_NAME": "spm"`)
	assert.Contains(t, string(data), `"CLOCK_PERIOD": 12.25`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestNewFileStore_RejectsUnknownExtension(t *testing.T) {
	_, err := NewFileStore("config.toml", flow.DefaultParamSpace())
	assert.Error(t, err)
}
