package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowtune/flowtune/flow"
	"github.com/flowtune/flowtune/flow/configdoc"
)

// RunRequest asks the external flow to run once with Params through the last
// of Stages, leaving its artifacts under WorkDir.
type RunRequest struct {
	Attempt int
	Params  flow.ParameterState
	Stages  []flow.Stage
	WorkDir string
}

// Through returns the last requested stage.
func (r RunRequest) Through() flow.Stage {
	if len(r.Stages) == 0 {
		return flow.StageSignoff
	}
	return r.Stages[len(r.Stages)-1]
}

// RunResult describes a completed invocation. Dir holds the report
// artifacts; it is set even when RunFlow also returns an error, since a
// failed flow still leaves partial reports behind.
type RunResult struct {
	Dir      string
	ExitCode int
	Duration time.Duration
}

// FlowRunner invokes the external physical-design flow. RunFlow is
// synchronous and may take minutes.
type FlowRunner interface {
	RunFlow(ctx context.Context, req RunRequest) (RunResult, error)
}

// LogFileName is the file, inside the work directory, that receives the
// flow's combined output.
const LogFileName = "flow.log"

// ExecRunner runs the flow as an external command. Before each run the base
// configuration document, with the request's parameter values spliced in,
// is written into the work directory.
//
// Command arguments may use the placeholders {config}, {workdir},
// {attempt} and {through}.
type ExecRunner struct {
	Command    []string
	Base       *configdoc.Document
	ConfigName string        // file name for the written document; defaults to config.<format>
	Timeout    time.Duration // zero means no limit
	Env        []string      // extra environment, appended to the process environment
}

// NewExecRunner validates the command template.
func NewExecRunner(command []string, base *configdoc.Document, timeout time.Duration) (*ExecRunner, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("flow command is empty")
	}
	if base == nil {
		return nil, fmt.Errorf("base configuration document is required")
	}
	if timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0, got %v", timeout)
	}
	return &ExecRunner{Command: command, Base: base, Timeout: timeout}, nil
}

func (r *ExecRunner) configName() string {
	if r.ConfigName != "" {
		return r.ConfigName
	}
	return "config." + string(r.Base.Format())
}

// RunFlow implements FlowRunner.
func (r *ExecRunner) RunFlow(ctx context.Context, req RunRequest) (RunResult, error) {
	res := RunResult{Dir: req.WorkDir, ExitCode: -1}
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return res, fmt.Errorf("creating work directory: %w", err)
	}

	doc, err := configdoc.Parse(r.Base.Bytes(), r.Base.Format())
	if err != nil {
		return res, err
	}
	if err := doc.Apply(req.Params); err != nil {
		return res, fmt.Errorf("writing parameters: %w", err)
	}
	configPath := filepath.Join(req.WorkDir, r.configName())
	if err := doc.WriteFile(configPath); err != nil {
		return res, err
	}

	repl := strings.NewReplacer(
		"{config}", configPath,
		"{workdir}", req.WorkDir,
		"{attempt}", strconv.Itoa(req.Attempt),
		"{through}", string(req.Through()),
	)
	args := make([]string, len(r.Command))
	for i, a := range r.Command {
		args[i] = repl.Replace(a)
	}

	logFile, err := os.Create(filepath.Join(req.WorkDir, LogFileName))
	if err != nil {
		return res, fmt.Errorf("creating flow log: %w", err)
	}
	defer logFile.Close()

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = req.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), r.Env...)

	logrus.Debugf("runner: attempt %d: %s", req.Attempt, strings.Join(args, " "))
	start := time.Now()
	err = cmd.Run()
	res.Duration = time.Since(start)
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("flow timed out after %v: %w", r.Timeout, err)
		}
		return res, fmt.Errorf("flow command failed: %w", err)
	}
	return res, nil
}
