package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/configdoc"
	"github.com/flowtune/flowtune/flow/engine"
)

var (
	gridAxes    []string // Repeated name=v1,v2,... axes
	sweepDir    string   // Root of the per-point directories
	parallelism int      // Concurrent sweep points
	reportOut   string   // Path for the JSON sweep report
)

var sweepCmd = &cobra.Command{
	Use:   "sweep --config config.json --grid name=v1,v2 [flags] -- <flow command> [args...]",
	Short: "Run the flow once for every point of a parameter grid",
	Long: `Apply each point of the cartesian product of --grid axes to the base
configuration, run the flow once per point in its own directory and report
the verdict of every point. The base configuration file is not modified.`,
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

		if _, err := runSweep(ctx, command, metrics, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Sweep failed: %v", err)
		}
	},
}

func parseGrid(space *flow.ParamSpace, specs []string) ([]engine.SweepAxis, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one --grid axis is required")
	}
	seen := make(map[string]bool)
	axes := make([]engine.SweepAxis, 0, len(specs))
	for _, s := range specs {
		ax, err := engine.ParseAxis(s, space)
		if err != nil {
			return nil, err
		}
		if seen[ax.Param] {
			return nil, fmt.Errorf("parameter %s appears in more than one --grid axis", ax.Param)
		}
		seen[ax.Param] = true
		axes = append(axes, ax)
	}
	return axes, nil
}

func runSweep(ctx context.Context, command []string, metrics *engine.Metrics, out io.Writer) (*engine.SweepReport, error) {
	policy, err := loadPolicy()
	if err != nil {
		return nil, err
	}
	axes, err := parseGrid(policy.Space, gridAxes)
	if err != nil {
		return nil, err
	}
	base, err := configdoc.Load(configPath)
	if err != nil {
		return nil, err
	}
	params, err := base.Params(policy.Space)
	if err != nil {
		return nil, err
	}
	runner, err := newRunner(command, base)
	if err != nil {
		return nil, err
	}
	sw := &engine.Sweep{
		Policy:      policy,
		Runner:      runner,
		Base:        params,
		Axes:        axes,
		WorkDir:     sweepDir,
		Parallelism: parallelism,
		Metrics:     metrics,
	}
	rep, err := sw.Run(ctx)
	if err != nil {
		return nil, err
	}
	rep.Print(out)
	if reportOut != "" {
		if err := rep.WriteJSON(reportOut); err != nil {
			return rep, err
		}
		fmt.Fprintf(out, "Report written to %s\n", reportOut)
	}
	return rep, nil
}

func init() {
	sweepCmd.Flags().StringVar(&configPath, "config", "", "Base flow configuration document (config.json or config.yaml)")
	sweepCmd.Flags().StringArrayVar(&gridAxes, "grid", nil, "Sweep axis as name=v1,v2,... using a parameter name or config key (can be repeated)")
	sweepCmd.Flags().IntVar(&parallelism, "parallelism", 1, "Number of grid points run concurrently")
	sweepCmd.Flags().StringVar(&sweepDir, "work-dir", "sweep", "Directory receiving one subdirectory per grid point")
	sweepCmd.Flags().DurationVar(&flowTimeout, "timeout", 0, "Time limit for one flow run (0 = none)")
	sweepCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	sweepCmd.Flags().StringVar(&reportOut, "report-out", "", "Write the sweep report as JSON to this path")
	_ = sweepCmd.MarkFlagRequired("config")
	_ = sweepCmd.MarkFlagRequired("grid")

	rootCmd.AddCommand(sweepCmd)
}
