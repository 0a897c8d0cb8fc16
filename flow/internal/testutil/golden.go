package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenDataset represents the structure of flow/report/testdata/golden.json.
type GoldenDataset struct {
	Cases []GoldenCase `json:"cases"`
}

// GoldenCase is one report fixture and the record it must extract to.
type GoldenCase struct {
	Name      string             `json:"name"`
	Stage     string             `json:"stage"`
	File      string             `json:"file"`
	Metrics   map[string]float64 `json:"metrics"`
	Enums     map[string]string  `json:"enums"`
	Anomalies int                `json:"anomalies"`
}

// ReportTestdata returns the absolute path of the report fixtures directory.
// The path is resolved relative to this source file:
// flow/internal/testutil/ → flow/report/testdata/.
func ReportTestdata(t testing.TB) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "report", "testdata")
}

// LoadGoldenDataset loads the extractor golden dataset.
func LoadGoldenDataset(t testing.TB) *GoldenDataset {
	t.Helper()
	path := filepath.Join(ReportTestdata(t), "golden.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	return &dataset
}

// ReadFixture returns the content of a report fixture.
func ReadFixture(t testing.TB, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ReportTestdata(t), name))
	if err != nil {
		t.Fatalf("Failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t testing.TB, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
