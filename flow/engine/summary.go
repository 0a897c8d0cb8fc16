package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/flowtune/flowtune/flow"
)

// Summary is the terminal report of a convergence run: enough for a human
// to resume by hand from where the engine stopped.
type Summary struct {
	RunID            string               `json:"run_id"`
	Outcome          Outcome              `json:"outcome"`
	Iterations       int                  `json:"iterations"`
	FinalParams      flow.ParameterState  `json:"final_params"`
	RootCause        *flow.Problem        `json:"root_cause,omitempty"` // top problem of the final attempt
	FinalProblems    []flow.Problem       `json:"final_problems"`
	ExhaustedParams  []string             `json:"exhausted_params,omitempty"`
	ClampedParams    []string             `json:"clamped_params,omitempty"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
	AttemptDurations Distribution         `json:"attempt_duration_seconds"`
	History          []flow.AttemptRecord `json:"history"`
}

// WriteJSON writes the summary, indented, to path.
func (s *Summary) WriteJSON(path string) error { return writeJSON(path, s) }

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Print writes a human-readable report.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Convergence Summary ===")
	fmt.Fprintf(w, "Run ID        : %s\n", s.RunID)
	fmt.Fprintf(w, "Outcome       : %s\n", s.Outcome)
	fmt.Fprintf(w, "Iterations    : %d\n", s.Iterations)
	if s.RootCause != nil && s.Outcome != OutcomeSuccess {
		fmt.Fprintf(w, "Root cause    : %s\n", s.RootCause)
	}
	if len(s.ExhaustedParams) > 0 {
		fmt.Fprintf(w, "Exhausted     : %s\n", strings.Join(s.ExhaustedParams, ", "))
	}
	if len(s.ClampedParams) > 0 {
		fmt.Fprintf(w, "Clamped       : %s\n", strings.Join(s.ClampedParams, ", "))
	}
	if s.AttemptDurations.Count > 0 {
		fmt.Fprintf(w, "Attempt time  : mean %.1fs, max %.1fs\n", s.AttemptDurations.Mean, s.AttemptDurations.Max)
	}
	if s.FinalParams.Space() != nil {
		fmt.Fprintln(w, "Final parameters:")
		for _, spec := range s.FinalParams.Space().Specs() {
			fmt.Fprintf(w, "  %-28s %s\n", spec.Key, s.FinalParams.Format(spec.Name))
		}
	}
	if len(s.History) == 0 {
		return
	}
	fmt.Fprintln(w, "=== Attempts ===")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTOP PROBLEM\tADJUSTMENT\tRUN ERROR")
	for _, rec := range s.History {
		top := "-"
		if rec.Success {
			top = "clean"
		} else if len(rec.Problems) > 0 {
			top = rec.Problems[0].String()
		}
		adj := "-"
		if rec.Adjustment != nil {
			adj = rec.Adjustment.Justification
		}
		runErr := "-"
		if rec.RunError != "" {
			runErr = firstLine(rec.RunError)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.Iteration, top, adj, runErr)
	}
	tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// clampedParams lists, in first-seen order, parameters whose most recent
// adjustment hit a bound.
func clampedParams(history []flow.AttemptRecord) []string {
	latest := make(map[string]bool)
	var order []string
	for _, rec := range history {
		adj := rec.Adjustment
		if adj == nil || adj.IsRetry() {
			continue
		}
		if _, seen := latest[adj.Param]; !seen {
			order = append(order, adj.Param)
		}
		latest[adj.Param] = adj.Clamped
	}
	var out []string
	for _, p := range order {
		if latest[p] {
			out = append(out, p)
		}
	}
	return out
}

func durationDistribution(history []flow.AttemptRecord) Distribution {
	secs := make([]float64, len(history))
	for i, rec := range history {
		secs[i] = rec.Duration.Seconds()
	}
	return NewDistribution(secs)
}
