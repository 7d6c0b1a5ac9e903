// File: internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/annotate"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/control"
	"github.com/xkilldash9x/scalpel-pilot/internal/intervention"
	"github.com/xkilldash9x/scalpel-pilot/internal/llmutil"
	"github.com/xkilldash9x/scalpel-pilot/internal/monitor"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception/enrich"
	"github.com/xkilldash9x/scalpel-pilot/internal/router"
)

const (
	defaultMaxSteps      = 15
	defaultHistoryWindow = 3
	groundingWaitSeconds = 2
	maxDescriptionLen    = 200
	popupSettleDelay     = 500 * time.Millisecond
)

// Dependencies are the collaborators the control loop drives. LLM, Capturer,
// Input and Perceiver are required; the rest are optional.
type Dependencies struct {
	LLM          schemas.LLMClient
	Capturer     ScreenCapturer
	Input        InputDriver
	Perceiver    *perception.Perceiver
	Annotator    *annotate.Annotator
	Monitor      *monitor.Monitor
	FastPath     FastPath
	PageText     PageTextSource
	Popups       PopupCloser
	Intervention *intervention.Detector
	Signals      *control.Signals
	Metrics      *observability.Metrics
}

// Agent is the vision grounding control loop. One Agent runs one task at a
// time; it is not safe for concurrent Run calls.
type Agent struct {
	logger       *zap.Logger
	cfg          config.AgentConfig
	safety       config.SafetyConfig
	llm          schemas.LLMClient
	capturer     ScreenCapturer
	input        InputDriver
	perceiver    *perception.Perceiver
	annotator    *annotate.Annotator
	monitor      *monitor.Monitor
	fastPath     FastPath
	pageText     PageTextSource
	popups       PopupCloser
	intervention *intervention.Detector
	signals      *control.Signals
	metrics      *observability.Metrics
	registry     *ExecutorRegistry
	sleep        func(ctx context.Context, d time.Duration) error
}

// New wires an Agent. Missing optional collaborators are built from cfg
// where the configuration enables them.
func New(cfg config.Interface, deps Dependencies, logger *zap.Logger) (*Agent, error) {
	switch {
	case deps.LLM == nil:
		return nil, errors.New("agent requires an LLM client")
	case deps.Capturer == nil:
		return nil, errors.New("agent requires a screen capturer")
	case deps.Input == nil:
		return nil, errors.New("agent requires an input driver")
	case deps.Perceiver == nil:
		return nil, errors.New("agent requires a perceiver")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Agent{
		logger:       logger.Named("agent"),
		cfg:          cfg.Agent(),
		safety:       cfg.Safety(),
		llm:          deps.LLM,
		capturer:     deps.Capturer,
		input:        deps.Input,
		perceiver:    deps.Perceiver,
		annotator:    deps.Annotator,
		monitor:      deps.Monitor,
		fastPath:     deps.FastPath,
		pageText:     deps.PageText,
		popups:       deps.Popups,
		intervention: deps.Intervention,
		signals:      deps.Signals,
		metrics:      deps.Metrics,
		sleep:        sleepCtx,
	}
	if a.annotator == nil {
		a.annotator = annotate.New(logger)
	}
	if a.monitor == nil && cfg.Monitor().Enabled {
		a.monitor = monitor.New(cfg.Monitor(), logger)
	}
	if a.intervention == nil && a.safety.InterventionDetection {
		a.intervention = intervention.NewDetector(a.safety, logger)
	}
	a.registry = NewExecutorRegistry(deps.Input, a.cfg, deps.Signals, logger)
	return a, nil
}

// Registry exposes the executor registry so callers can add action kinds.
func (a *Agent) Registry() *ExecutorRegistry { return a.registry }

// runState is the per-task memory of the loop.
type runState struct {
	task       string
	url        string
	lastResult string
	done       []string
	history    []HistoryEntry
	payload    map[string]any
	// pending is a planner verdict taken right after a fast path action; it
	// stands in for the next iteration's planning call.
	pending *Verdict
}

// Run executes task with the configured step budget.
func (a *Agent) Run(ctx context.Context, task string) Result {
	return a.RunWithBudget(ctx, task, a.cfg.MaxSteps)
}

// RunWithBudget executes task for at most maxSteps iterations. It never
// returns an error: failures inside an iteration consume that iteration, and
// the outcome is reported through the Result status.
func (a *Agent) RunWithBudget(ctx context.Context, task string, maxSteps int) Result {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	if a.monitor != nil {
		a.monitor.Reset()
	}
	st := &runState{task: task, url: "unknown", lastResult: "no previous action"}
	a.logger.Info("Starting task", zap.String("task", task), zap.Int("max_steps", maxSteps))

	var (
		step      int
		completed bool
		stopped   bool
		reason    string
	)
	for step < maxSteps && !completed {
		if err := a.signals.WaitWhilePaused(ctx); err != nil {
			stopped, reason = true, stopReason(err)
			break
		}
		step++
		a.logger.Info("Step", zap.Int("step", step), zap.Int("max_steps", maxSteps))

		done, err := a.iterate(ctx, step, st)
		if err != nil {
			if errors.Is(err, control.ErrStopped) || ctx.Err() != nil {
				stopped, reason = true, stopReason(err)
				break
			}
			a.logger.Warn("Iteration failed, continuing", zap.Int("step", step), zap.Error(err))
			st.lastResult = fmt.Sprintf("step failed: %v", err)
			continue
		}
		completed = done
	}

	res := Result{
		Status:    schemas.StatusPartial,
		Steps:     step,
		Task:      task,
		History:   st.history,
		Completed: completed,
		Stopped:   stopped,
		Reason:    reason,
		Payload:   st.payload,
	}
	if completed {
		res.Status = schemas.StatusSuccess
	} else if !stopped {
		res.Reason = fmt.Sprintf("step budget of %d exhausted", maxSteps)
	}
	a.logger.Info("Task finished",
		zap.String("status", string(res.Status)),
		zap.Int("steps", res.Steps),
		zap.Bool("completed", completed),
	)
	return res
}

// dismissPopups clears the page before capture. Only cancellation is fatal;
// a failed scan leaves the popup for the grounding step to deal with.
func (a *Agent) dismissPopups(ctx context.Context) error {
	closed, err := a.popups.Dismiss(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		a.logger.Debug("Popup check failed", zap.Error(err))
		return nil
	}
	if !closed {
		return nil
	}
	return a.sleep(ctx, popupSettleDelay)
}

func stopReason(err error) string {
	if errors.Is(err, control.ErrStopped) {
		return "stopped by user"
	}
	return err.Error()
}

// iterate runs one PLANNING → … → VERIFYING cycle and reports whether the
// planner declared the task complete.
func (a *Agent) iterate(ctx context.Context, step int, st *runState) (complete bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("Iteration panicked", zap.Int("step", step), zap.Any("panic", p), zap.Stack("stack"))
			complete, err = false, fmt.Errorf("iteration panicked: %v", p)
		}
	}()

	if a.popups != nil && a.cfg.AutoClosePopups {
		if err := a.dismissPopups(ctx); err != nil {
			return false, err
		}
	}
	if url, err := a.input.CurrentURL(ctx); err == nil && url != "" {
		st.url = url
	}
	frame, err := a.capturer.Capture(ctx)
	if err != nil {
		return false, fmt.Errorf("screen capture failed: %w", err)
	}
	changes := a.observeFrame(frame)

	// -- PLANNING --
	var verdict Verdict
	if st.pending != nil {
		verdict, st.pending = *st.pending, nil
	} else {
		verdict = a.plan(ctx, st, frame, changes)
	}
	if verdict.TaskComplete {
		a.logger.Info("Planner reports the task complete", zap.Int("step", step))
		return true, nil
	}
	if err := a.signals.WaitWhilePaused(ctx); err != nil {
		return false, err
	}

	// -- FAST_PATH_ATTEMPT --
	if a.fastPath != nil && a.cfg.FastPathEnabled {
		res := a.fastPath.TryExecute(ctx, verdict.Suggestion, st.task)
		if res.Success {
			return a.afterFastPath(ctx, step, st, verdict, res)
		}
		a.metrics.RecordFallback("fast_path_to_vision")
		a.logger.Info("Fast path failed, falling back to vision",
			zap.String("suggestion", verdict.Suggestion),
			zap.String("reason", res.Reason),
		)
	}

	// -- PERCEIVING --
	p, err := a.perceiver.Perceive(ctx, frame)
	if err != nil {
		return false, err
	}

	// -- GROUNDING --
	annotated, _ := a.annotator.Annotate(p.Frame.Image, p.Elements)
	decision := a.ground(ctx, st.task, verdict.Suggestion, annotated, p.Elements)
	a.logger.Info("Grounded decision",
		zap.String("action", decision.Describe()),
		zap.Int("elements", len(p.Elements)),
		zap.String("reasoning", decision.Reasoning),
	)

	held, err := a.holdForIntervention(ctx, verdict, &decision)
	if err != nil {
		return false, err
	}
	if held {
		st.lastResult = "waited for user intervention"
		return false, nil
	}
	if err := a.signals.WaitWhilePaused(ctx); err != nil {
		return false, err
	}

	// -- EXECUTING --
	result := a.registry.Execute(ctx, decision, Frame{Elements: p.Elements, Geometry: p.Frame})
	a.metrics.RecordAgentStep(string(ChannelVision))
	a.logger.Info("Executed action", zap.String("result", result.Text), zap.String("error_code", string(result.ErrorCode)))

	description := decision.Reasoning
	if description == "" {
		description = decision.Describe()
	}
	st.lastResult = fmt.Sprintf("%s - Result: %s", description, result.Text)
	st.done = append(st.done, description)
	d := decision
	st.history = append(st.history, HistoryEntry{
		Step:         step,
		Channel:      ChannelVision,
		Verdict:      verdict,
		Action:       &d,
		ElementCount: len(p.Elements),
		Result:       result.Text,
		ErrorCode:    result.ErrorCode,
		Timestamp:    time.Now(),
	})

	// -- VERIFYING -- happens through the monitor on the next capture.
	if err := a.sleep(ctx, a.cfg.PostActionDelay); err != nil {
		return false, err
	}
	return false, nil
}

// afterFastPath records a DOM action and rechecks completion on a fresh frame.
// The recheck verdict is reused as the next iteration's plan.
func (a *Agent) afterFastPath(ctx context.Context, step int, st *runState, verdict Verdict, res router.Result) (bool, error) {
	a.metrics.RecordAgentStep(string(ChannelFastPath))
	st.lastResult = fmt.Sprintf("Fast path: %s - SUCCESS (%s)", verdict.Suggestion, res.Reason)
	st.done = append(st.done, "Fast path: "+verdict.Suggestion)
	st.history = append(st.history, HistoryEntry{
		Step:      step,
		Channel:   ChannelFastPath,
		Verdict:   verdict,
		Result:    res.Reason,
		Timestamp: time.Now(),
	})
	for k, v := range res.Payload {
		if st.payload == nil {
			st.payload = make(map[string]any)
		}
		st.payload[k] = v
	}

	if err := a.sleep(ctx, a.cfg.PostActionDelay); err != nil {
		return false, err
	}

	// -- VERIFYING --
	frame, err := a.capturer.Capture(ctx)
	if err != nil {
		// The next iteration plans from scratch.
		a.logger.Debug("Recheck capture failed", zap.Error(err))
		return false, nil
	}
	changes := a.observeFrame(frame)
	check := a.plan(ctx, st, frame, changes)
	if check.TaskComplete {
		a.logger.Info("Fast path action completed the task", zap.Int("step", step))
		return true, nil
	}
	st.pending = &check
	return false, nil
}

// observeFrame feeds the change monitor and returns its summary.
func (a *Agent) observeFrame(frame image.Image) string {
	if a.monitor == nil {
		return ""
	}
	report := a.monitor.AddFrame(frame)
	if report.Changed {
		a.logger.Debug("Screen change detected",
			zap.String("type", string(report.ChangeType)),
			zap.Float64("percent", report.ChangePercent),
		)
	}
	return a.monitor.ChangeSummary()
}

// plan asks the planner tier about the current frame. It never fails: an
// unavailable planner yields a verdict that keeps the loop going.
func (a *Agent) plan(ctx context.Context, st *runState, frame image.Image, changes string) Verdict {
	png, err := annotate.EncodePNG(frame)
	if err != nil {
		a.logger.Warn("Could not encode frame for the planner", zap.Error(err))
		return defaultVerdict()
	}

	window := a.cfg.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}
	recent := st.done
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}

	req := schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt: buildPlannerPrompt(plannerContext{
			Task:          st.task,
			URL:           st.url,
			LastAction:    st.lastResult,
			RecentSteps:   recent,
			ChangeSummary: changes,
		}),
		Images:  []schemas.ImagePart{{MIMEType: "image/png", Data: png}},
		Tier:    schemas.TierPowerful,
		Options: schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true},
	}
	raw, err := a.llm.Generate(ctx, req)
	if err != nil {
		a.logger.Warn("Planner call failed", zap.Error(err))
		return defaultVerdict()
	}

	v, err := llmutil.ParseJSONResponse[Verdict](raw)
	if err != nil {
		fallback := defaultVerdict()
		if text := strings.TrimSpace(raw); text != "" {
			fallback.Description = truncate(text, maxDescriptionLen)
		}
		a.logger.Debug("Planner answer was not JSON", zap.Error(err))
		return fallback
	}
	if strings.TrimSpace(v.Suggestion) == "" {
		v.Suggestion = defaultVerdict().Suggestion
	}
	a.logger.Info("Planner verdict",
		zap.String("description", truncate(v.Description, 100)),
		zap.String("suggestion", v.Suggestion),
		zap.Bool("task_complete", v.TaskComplete),
	)
	return *v
}

// ground asks the executor tier for a decision over the annotated frame.
// Malformed output becomes a short wait. Transport failures are retried once
// on the planner tier when planner fallback is enabled.
func (a *Agent) ground(ctx context.Context, task, suggestion string, annotated *image.RGBA, elements []schemas.EnrichedElement) schemas.ActionDecision {
	var img image.Image = annotated
	if a.cfg.ZoneCrop {
		zone := a.chooseZone(ctx, task, suggestion)
		img, _ = annotate.CropZone(annotated, zone)
	}
	png, err := annotate.EncodePNG(img)
	if err != nil {
		return schemas.WaitDecision(groundingWaitSeconds, fmt.Sprintf("Error: %v", err))
	}

	req := schemas.GenerationRequest{
		SystemPrompt: groundingSystemPrompt,
		UserPrompt:   buildGroundingPrompt(task, suggestion, enrich.FormatForLLM(elements, a.cfg.MaxPromptElements)),
		Images:       []schemas.ImagePart{{MIMEType: "image/png", Data: png}},
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true, MaxTokens: 512},
	}
	raw, err := a.llm.Generate(ctx, req)
	if err == nil {
		return llmutil.DecodeDecision(raw)
	}

	a.logger.Warn("Executor call failed", zap.Error(err))
	if !a.cfg.PlannerFallback || !isTransportError(err) || ctx.Err() != nil {
		return schemas.WaitDecision(groundingWaitSeconds, fmt.Sprintf("Error: %v", err))
	}

	a.metrics.RecordFallback("executor_to_planner")
	req.Tier = schemas.TierPowerful
	raw, err = a.llm.Generate(ctx, req)
	if err != nil {
		a.logger.Warn("Planner tier fallback failed", zap.Error(err))
		return schemas.WaitDecision(groundingWaitSeconds, "both executor and planner tiers failed")
	}
	return llmutil.DecodeDecision(raw)
}

func (a *Agent) chooseZone(ctx context.Context, task, suggestion string) annotate.Zone {
	req := schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(`You locate elements in a web interface.

ZONES:
- browser_toolbar: browser tabs, navigation, address bar, extensions
- content: site menu, search bar, main page content
- footer: bottom of the page, pagination

TASK: %s
SUGGESTION: %s

Answer ONLY with the zone name.`, task, suggestion),
		Tier:    schemas.TierFast,
		Options: schemas.GenerationOptions{Temperature: 0.01, MaxTokens: 16},
	}
	raw, err := a.llm.Generate(ctx, req)
	if err != nil {
		return annotate.ZoneContent
	}
	switch zone := annotate.Zone(strings.Trim(strings.ToLower(strings.TrimSpace(raw)), `"'.`)); zone {
	case annotate.ZoneToolbar, annotate.ZoneContent, annotate.ZoneFooter:
		return zone
	}
	return annotate.ZoneContent
}

// holdForIntervention reports whether the iteration was spent waiting for
// the user.
func (a *Agent) holdForIntervention(ctx context.Context, verdict Verdict, d *schemas.ActionDecision) (bool, error) {
	if a.intervention == nil {
		return false, nil
	}
	var text string
	if a.pageText != nil {
		if t, err := a.pageText.PageText(ctx); err == nil {
			text = t
		}
	}
	det := a.intervention.Check(text, verdict.Description, d)
	if !det.Needed {
		return false, nil
	}
	a.logger.Warn("User intervention required",
		zap.String("reason", string(det.Reason)),
		zap.String("message", det.Message),
		zap.Float64("confidence", det.Confidence),
	)
	if !a.safety.PauseOnIntervention || a.signals == nil {
		return false, nil
	}
	a.signals.Pause()
	if err := a.signals.WaitWhilePaused(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// isTransportError reports timeouts and connection failures, the errors
// worth retrying on another tier.
func isTransportError(err error) bool {
	if router.IsTimeout(err) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
