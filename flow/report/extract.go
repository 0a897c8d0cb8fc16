// Package report turns the text artifacts of an external physical-design flow
// into flow.MetricRecords. Extractors are pure functions of the report text;
// collection from a run directory is the only file access.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/flowtune/flowtune/flow"
)

// ExtractFunc maps one stage's report text to a MetricRecord.
type ExtractFunc func(text string) flow.MetricRecord

var extractors = map[flow.Stage]ExtractFunc{
	flow.StageSynthesis: ExtractSynthesis,
	flow.StageFloorplan: ExtractFloorplan,
	flow.StagePlacement: ExtractPlacement,
	flow.StageCTS:       ExtractCTS,
	flow.StageRouting:   ExtractRouting,
	flow.StageSignoff:   ExtractSignoff,
}

// Extract runs the extractor for stage. Panics on an unknown stage.
func Extract(stage flow.Stage, text string) flow.MetricRecord {
	fn, ok := extractors[stage]
	if !ok {
		panic(fmt.Sprintf("no extractor for stage %q", stage))
	}
	return fn(text)
}

// ExtractFile reads path and extracts it as stage's report. A file that
// cannot be read yields an anomalies-only record, not an error.
func ExtractFile(stage flow.Stage, path string) flow.MetricRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		return flow.NewMetricRecord(stage, nil, []flow.Anomaly{{Reason: fmt.Sprintf("reading %s: %v", path, err)}})
	}
	return Extract(stage, string(data))
}

// Layout maps each stage to glob patterns, relative to a run directory, that
// locate its report artifacts. When several files match they are read in
// sorted order and concatenated into one artifact.
type Layout map[flow.Stage][]string

// DefaultLayout accepts both a flat reports/<stage>.rpt layout and the
// OpenLane run-directory layout.
func DefaultLayout() Layout {
	return Layout{
		flow.StageSynthesis: {"reports/synthesis.rpt", "reports/synthesis/*.stat.rpt", "reports/synthesis/*sta*.rpt"},
		flow.StageFloorplan: {"reports/floorplan.rpt", "reports/floorplan/*.rpt", "results/floorplan/*.def"},
		flow.StagePlacement: {"reports/placement.rpt", "reports/placement/*.rpt", "logs/placement/*global*.log"},
		flow.StageCTS:       {"reports/cts.rpt", "reports/cts/*.rpt"},
		flow.StageRouting:   {"reports/routing.rpt", "reports/routing/*.rpt", "logs/routing/*detailed*.log"},
		flow.StageSignoff:   {"reports/signoff.rpt", "reports/signoff/*.rpt", "logs/signoff/*lvs*.log"},
	}
}

// Files returns the artifacts present for stage under dir, sorted and
// de-duplicated.
func (l Layout) Files(dir string, stage flow.Stage) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range l[stage] {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("layout pattern %q for %s: %w", pattern, stage, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// CollectRun extracts a record for every stage in stages whose artifacts
// exist under dir. A stage with no artifacts was not reached and gets no
// record. Records come back in pipeline order.
func CollectRun(dir string, layout Layout, stages []flow.Stage) ([]flow.MetricRecord, error) {
	var records []flow.MetricRecord
	for _, stage := range flow.AllStages {
		if !slices.Contains(stages, stage) {
			continue
		}
		files, err := layout.Files(dir, stage)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			logrus.Debugf("report: no %s artifacts under %s", stage, dir)
			continue
		}
		var text strings.Builder
		var readErrs []flow.Anomaly
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				readErrs = append(readErrs, flow.Anomaly{Reason: fmt.Sprintf("reading %s: %v", f, err)})
				continue
			}
			text.Write(data)
			text.WriteString("\n")
		}
		if len(readErrs) > 0 {
			records = append(records, flow.NewMetricRecord(stage, nil, readErrs))
			continue
		}
		rec := Extract(stage, text.String())
		for _, a := range rec.Anomalies() {
			logrus.Warnf("report: %s: %s", stage, a)
		}
		records = append(records, rec)
	}
	return records, nil
}
