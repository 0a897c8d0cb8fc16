package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/configdoc"
	"github.com/flowtune/flowtune/flow/engine"
	"github.com/flowtune/flowtune/flow/report"
)

var (
	analyzeStage string // Stage of a single report file
	analyzeJSON  bool   // Emit JSON instead of text
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <run-dir | report-file>",
	Short: "Classify an existing run and show the next adjustment",
	Long: `Read the reports of a finished flow run, rank its problems and print the
adjustment the tuner would make next, without running anything. Given a single
report file and --stage, print the metrics extracted from it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if err := runAnalyze(args[0], cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Analyze failed: %v", err)
		}
	},
}

func runAnalyze(target string, out io.Writer) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return analyzeFile(target, out)
	}

	policy, err := loadPolicy()
	if err != nil {
		return err
	}
	params, err := flow.NewParameterState(policy.Space, nil)
	if err != nil {
		return err
	}
	if configPath != "" {
		doc, err := configdoc.Load(configPath)
		if err != nil {
			return err
		}
		if params, err = doc.Params(policy.Space); err != nil {
			return err
		}
	}
	a, err := engine.Analyze(target, policy, nil, params)
	if err != nil {
		return err
	}
	if analyzeJSON {
		return writeIndented(out, a)
	}
	a.Print(out)
	return nil
}

func analyzeFile(path string, out io.Writer) error {
	if !flow.IsValidStage(analyzeStage) {
		return fmt.Errorf("--stage is required for a single report file, got %q", analyzeStage)
	}
	rec := report.ExtractFile(flow.Stage(analyzeStage), path)
	if analyzeJSON {
		return writeIndented(out, rec)
	}
	fmt.Fprintf(out, "=== %s: %s ===\n", rec.Stage(), path)
	for _, name := range rec.Names() {
		v, _ := rec.Get(name)
		fmt.Fprintf(out, "%-26s %s\n", name, v)
	}
	for _, a := range rec.Anomalies() {
		fmt.Fprintf(out, "! %s\n", a)
	}
	return nil
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	analyzeCmd.Flags().StringVar(&configPath, "config", "", "Configuration document the run used (default: built-in parameter defaults)")
	analyzeCmd.Flags().StringVar(&analyzeStage, "stage", "", "Stage of a single report file")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print JSON instead of a table")

	rootCmd.AddCommand(analyzeCmd)
}
