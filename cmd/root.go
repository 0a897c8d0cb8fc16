package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/configdoc"
	"github.com/flowtune/flowtune/flow/engine"
)

var (
	// Flags shared by converge, sweep and analyze
	logLevel      string        // Log verbosity level
	configPath    string        // Flow configuration document (config.json / config.yaml)
	policyPath    string        // Tuning policy YAML
	maxIterations int           // Attempt budget; 0 keeps the policy value
	throughStage  string        // Last stage to run; empty keeps the policy value
	flowTimeout   time.Duration // Per-run limit for the external flow
	metricsAddr   string        // Address for the Prometheus /metrics endpoint
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "flowtune",
	Short: "Closed-loop parameter tuning for physical-design flows",
	Long: `flowtune runs an external synthesis-to-signoff flow, reads its stage reports,
picks the dominant failure and adjusts the flow configuration until the design
passes or no further adjustment is possible.`,
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging applies --log. Invalid levels are fatal.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadPolicy resolves the tuning policy file (if any) and applies the
// --max-iterations and --through overrides.
func loadPolicy() (flow.ResolvedPolicy, error) {
	tp := &flow.TuningPolicy{}
	if policyPath != "" {
		loaded, err := flow.LoadTuningPolicy(policyPath)
		if err != nil {
			return flow.ResolvedPolicy{}, err
		}
		tp = loaded
	}
	if maxIterations != 0 {
		n := maxIterations
		tp.MaxIterations = &n
	}
	if throughStage != "" {
		tp.TargetStage = throughStage
	}
	return tp.Resolve()
}

// newRunner builds an ExecRunner around the base configuration document.
func newRunner(command []string, base *configdoc.Document) (*engine.ExecRunner, error) {
	return engine.NewExecRunner(command, base, flowTimeout)
}

// serveMetrics starts a /metrics endpoint when --metrics-addr is set and
// returns the run metrics plus a shutdown function. With no address the
// metrics are collected on a private registry and never exposed.
func serveMetrics() (*engine.Metrics, func()) {
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)
	if metricsAddr == "" {
		return metrics, func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics endpoint: %v", err)
		}
	}()
	logrus.Infof("Serving metrics on %s/metrics", metricsAddr)
	return metrics, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM. The engine finishes the
// attempt in progress and stops before the next one.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func flowCommand(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: flow command required after --", cmd.Name())
	}
	return args, nil
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to tuning policy YAML (thresholds, parameter bounds, rules)")
	rootCmd.PersistentFlags().StringVar(&throughStage, "through", "", "Last flow stage to run and judge (synthesis, floorplan, placement, cts, routing, signoff)")
}
