package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// TaskError reports a task that ended without success. The result has been
// printed by the time it is returned.
type TaskError struct {
	Status schemas.TaskStatus
	Reason string
}

func (e *TaskError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("task ended with status %s", e.Status)
	}
	return fmt.Sprintf("task ended with status %s: %s", e.Status, e.Reason)
}

type runOptions struct {
	maxIterations int
	visionOnly    bool
	headless      bool
	transcript    string
	output        string
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <task...>",
		Short: "Carry out a natural language task",
		Long: `Plans the task, then drives the browser and the desktop step by step until
the task is complete, stopped, or out of iterations.

While a task runs, type "pause", "continue" or "quit" on stdin (control.stdin)
or append them to control.control_file.`,
		Example: `  pilot run "open wikipedia and search for the golden gate bridge"
  pilot run --vision-only --output json "open the settings menu"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.apply(cmd, a)
			task := strings.Join(args, " ")

			res, err := a.runTask(cmd.Context(), task, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), res, opts.output); err != nil {
				return err
			}
			if res.Status != schemas.StatusSuccess {
				return &TaskError{Status: res.Status, Reason: res.Reason}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.maxIterations, "max-iterations", 0, "override orchestrator.max_iterations")
	f.BoolVar(&opts.visionOnly, "vision-only", false, "skip planning and route every step through the vision loop")
	f.BoolVar(&opts.headless, "headless", false, "run Chrome without a window")
	f.StringVar(&opts.transcript, "transcript", "", "write the task transcript to this YAML file")
	f.StringVarP(&opts.output, "output", "o", "text", "result format: text, json or yaml")
	return cmd
}

// apply pushes explicitly set flags into the loaded configuration.
func (o *runOptions) apply(cmd *cobra.Command, a *app) {
	f := cmd.Flags()
	if f.Changed("max-iterations") && o.maxIterations > 0 {
		a.cfg.SetOrchestratorMaxIterations(o.maxIterations)
	}
	if f.Changed("vision-only") {
		a.cfg.SetOrchestratorVisionOnly(o.visionOnly)
	}
	if f.Changed("headless") {
		a.cfg.SetBrowserHeadless(o.headless)
	}
	if f.Changed("transcript") {
		a.cfg.SetOrchestratorTranscriptPath(o.transcript)
	}
}

// runTask executes one task with the control listeners and the metrics
// endpoint running beside it. Listener and metrics failures are logged, not
// fatal.
func (a *app) runTask(ctx context.Context, task string, stdin io.Reader) (schemas.TaskResult, error) {
	logger := a.logger
	c, err := initializeComponents(ctx, a.cfg, logger)
	if err != nil {
		return schemas.TaskResult{}, fmt.Errorf("failed to initialize components: %w", err)
	}
	defer c.Shutdown(logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if path := a.cfg.Control().ControlFile; path != "" {
		g.Go(func() error {
			if err := c.Signals.ListenFile(gctx, path); err != nil {
				logger.Warn("Control file listener stopped", zap.Error(err))
			}
			return nil
		})
	}
	if mc := a.cfg.Metrics(); mc.Enabled {
		g.Go(func() error {
			if err := c.Metrics.ServeMetrics(gctx, mc.Addr, logger); err != nil {
				logger.Warn("Metrics endpoint stopped", zap.Error(err))
			}
			return nil
		})
	}
	if a.cfg.Control().Stdin && stdin != nil {
		// The read blocks until the next line, so this goroutine is not joined.
		go func() {
			if err := c.Signals.ListenLines(gctx, stdin); err != nil {
				logger.Warn("Stdin control listener stopped", zap.Error(err))
			}
		}()
	}

	var res schemas.TaskResult
	g.Go(func() error {
		defer cancel()
		var err error
		res, err = c.Orchestrator.Execute(gctx, task)
		return err
	})
	if err := g.Wait(); err != nil {
		return res, err
	}
	logger.Info("Task finished",
		zap.String("task_id", res.TaskID),
		zap.String("status", string(res.Status)),
		zap.Int("steps", res.StepsCount),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
