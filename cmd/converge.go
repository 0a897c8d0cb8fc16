package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowtune/flowtune/flow/configdoc"
	"github.com/flowtune/flowtune/flow/engine"
)

var (
	convergeDir string // Root of the per-attempt directories
	summaryOut  string // Path for the JSON convergence summary
)

var convergeCmd = &cobra.Command{
	Use:   "converge --config config.json [flags] -- <flow command> [args...]",
	Short: "Run the flow repeatedly, tuning the config until it passes",
	Long: `Run the external flow, analyze its reports and adjust the configuration document
in place until signoff is clean, the attempt budget is spent or no adjustment
is left. The flow command may use {config}, {workdir}, {attempt} and {through}.`,
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		command, err := flowCommand(cmd, args)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		ctx, stop := signalContext()
		defer stop()
		metrics, shutdown := serveMetrics()
		defer shutdown()

		sum, err := runConverge(ctx, command, metrics, cmd.OutOrStdout())
		if err != nil {
			logrus.Fatalf("Convergence failed: %v", err)
		}
		if sum.Outcome != engine.OutcomeSuccess {
			shutdown()
			os.Exit(2)
		}
	},
}

// runConverge wires the config store, runner and policy into an Orchestrator
// and runs it to a terminal outcome.
func runConverge(ctx context.Context, command []string, metrics *engine.Metrics, out io.Writer) (*engine.Summary, error) {
	policy, err := loadPolicy()
	if err != nil {
		return nil, err
	}
	base, err := configdoc.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := configdoc.NewFileStore(configPath, policy.Space)
	if err != nil {
		return nil, err
	}
	runner, err := newRunner(command, base)
	if err != nil {
		return nil, err
	}
	o, err := engine.NewOrchestrator(engine.Config{
		Policy:  policy,
		Runner:  runner,
		Store:   store,
		WorkDir: convergeDir,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	sum, err := o.Run(ctx)
	if err != nil {
		return nil, err
	}
	sum.Print(out)
	if summaryOut != "" {
		if err := sum.WriteJSON(summaryOut); err != nil {
			return sum, err
		}
		fmt.Fprintf(out, "Summary written to %s\n", summaryOut)
	}
	return sum, nil
}

func init() {
	convergeCmd.Flags().StringVar(&configPath, "config", "", "Flow configuration document (config.json or config.yaml), updated in place")
	convergeCmd.Flags().StringVar(&convergeDir, "work-dir", "runs", "Directory receiving one subdirectory per attempt")
	convergeCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Attempt budget (0 = policy value, default 10)")
	convergeCmd.Flags().DurationVar(&flowTimeout, "timeout", 0, "Time limit for one flow run (0 = none)")
	convergeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	convergeCmd.Flags().StringVar(&summaryOut, "summary-out", "", "Write the convergence summary as JSON to this path")
	_ = convergeCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(convergeCmd)
}
