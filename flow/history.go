package flow

import (
	"slices"
	"time"
)

// Direction is the sign of a parameter adjustment.
type Direction int

const (
	Decrease Direction = -1
	Hold     Direction = 0
	Increase Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Decrease:
		return "decrease"
	case Increase:
		return "increase"
	default:
		return "hold"
	}
}

// Adjustment is the Tuner's chosen change for one attempt.
type Adjustment struct {
	Param         string    `json:"param,omitempty"`
	Old           float64   `json:"old"`
	New           float64   `json:"new"`
	Step          float64   `json:"step,omitempty"`
	Direction     Direction `json:"direction"`
	Justification string    `json:"justification"` // e.g. "timing:clock_period+"
	Damped        bool      `json:"damped,omitempty"`  // step was halved to break an oscillation
	Clamped       bool      `json:"clamped,omitempty"` // value hit its bound; the parameter is now exhausted
}

// IsRetry reports whether the adjustment re-runs the same configuration.
func (a Adjustment) IsRetry() bool { return a.Param == "" }

// AttemptRecord is the write-once audit entry for one attempt.
type AttemptRecord struct {
	Iteration  int            `json:"iteration"`
	Params     ParameterState `json:"params"`
	Records    []MetricRecord `json:"records"`
	Problems   []Problem      `json:"problems"`
	Success    bool           `json:"success"`
	Adjustment *Adjustment    `json:"adjustment,omitempty"` // nil when the attempt ended the run
	RunError   string         `json:"run_error,omitempty"`  // external flow failure, if any
	Duration   time.Duration  `json:"duration_ns"`
}

// RunHistory is the ordered, append-only log of attempts in one convergence
// run. Only the orchestrator appends, after an attempt completes.
type RunHistory struct {
	records []AttemptRecord
}

// NewRunHistory creates an empty history.
func NewRunHistory() *RunHistory {
	return &RunHistory{records: make([]AttemptRecord, 0)}
}

// Append adds a record. The record is copied on the way in and on every
// read, so neither the caller nor a reader can change the history.
func (h *RunHistory) Append(rec AttemptRecord) {
	h.records = append(h.records, rec.clone())
}

func (r AttemptRecord) clone() AttemptRecord {
	r.Records = slices.Clone(r.Records)
	r.Problems = slices.Clone(r.Problems)
	if r.Adjustment != nil {
		adj := *r.Adjustment
		r.Adjustment = &adj
	}
	return r
}

func cloneAll(recs []AttemptRecord) []AttemptRecord {
	out := make([]AttemptRecord, len(recs))
	for i, r := range recs {
		out[i] = r.clone()
	}
	return out
}

// Len returns the number of attempts recorded.
func (h *RunHistory) Len() int { return len(h.records) }

// Records returns a copy of all attempts in insertion order.
func (h *RunHistory) Records() []AttemptRecord {
	return cloneAll(h.records)
}

// Recent returns up to n of the latest attempts, oldest first.
func (h *RunHistory) Recent(n int) []AttemptRecord {
	if n <= 0 || len(h.records) == 0 {
		return nil
	}
	start := max(0, len(h.records)-n)
	return cloneAll(h.records[start:])
}

// Last returns the most recent attempt.
func (h *RunHistory) Last() (AttemptRecord, bool) {
	if len(h.records) == 0 {
		return AttemptRecord{}, false
	}
	return h.records[len(h.records)-1].clone(), true
}
