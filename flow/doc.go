// Package flow provides the convergence core for driving an external
// physical-design flow (synthesis through signoff) toward a passing result.
//
// # Reading Guide
//
// Start with these files:
//   - metrics.go: MetricRecord, the immutable output of a report extractor
//   - classifier.go: turns one attempt's records into a ranked Problem list
//   - tuner.go: maps the top Problem onto a bounded parameter adjustment
//
// # Architecture
//
// The flow package defines the data model and the pure decision logic;
// everything that touches files or processes lives in sub-packages:
//   - flow/report/: per-stage report extractors and run-directory collection
//   - flow/configdoc/: config.json / config.yaml round-trip
//   - flow/engine/: the attempt loop, flow runners, sweeps and summaries
//
// # Key Types
//
//   - ParameterState: immutable configuration value; Tuner returns a new one
//   - RuleTable: declarative Problem category → candidate adjustments
//   - RunHistory: append-only attempt log used for oscillation damping
package flow
