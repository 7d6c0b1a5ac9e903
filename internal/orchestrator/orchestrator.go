// Package orchestrator runs one natural-language task end to end. It asks an
// oracle for a plan, then repeatedly picks a skill and an instruction, merges
// every skill result into the task context and stops on completion, on an
// oscillation between two skills, or when the iteration budget runs out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/control"
	"github.com/xkilldash9x/scalpel-pilot/internal/llmutil"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
	"github.com/xkilldash9x/scalpel-pilot/internal/orchestrator/skills"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEmptyTask is returned for a blank task description.
var ErrEmptyTask = errors.New("task description is empty")

const (
	promptContextLimit  = 500
	summaryContextLimit = 300
)

// Dependencies are the collaborators of an Orchestrator. LLM and Skills are
// required.
type Dependencies struct {
	LLM     schemas.LLMClient
	Skills  *skills.Registry
	Signals *control.Signals
	Metrics *observability.Metrics
}

// Orchestrator drives tasks through the registered skills. One instance
// runs one task at a time.
type Orchestrator struct {
	cfg     config.OrchestratorConfig
	llm     schemas.LLMClient
	skills  *skills.Registry
	signals *control.Signals
	metrics *observability.Metrics
	logger  *zap.Logger
}

// New creates an Orchestrator.
func New(cfg config.Interface, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator requires a configuration")
	}
	if deps.LLM == nil {
		return nil, errors.New("orchestrator requires an LLM client")
	}
	if deps.Skills == nil {
		return nil, errors.New("orchestrator requires a skill registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	oc := cfg.Orchestrator()
	if oc.MaxIterations <= 0 {
		oc.MaxIterations = 20
	}
	return &Orchestrator{
		cfg:     oc,
		llm:     deps.LLM,
		skills:  deps.Skills,
		signals: deps.Signals,
		metrics: deps.Metrics,
		logger:  logger.Named("orchestrator"),
	}, nil
}

// Execute runs task to a terminal state. Failures inside the task are
// reported through the result status; the error is reserved for a task
// that could not be started.
func (o *Orchestrator) Execute(ctx context.Context, task string) (schemas.TaskResult, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return schemas.TaskResult{}, ErrEmptyTask
	}
	start := time.Now()
	res := schemas.TaskResult{TaskID: uuid.NewString(), Task: task}
	logger := o.logger.With(zap.String("task_id", res.TaskID))
	logger.Info("Task started", zap.String("task", task))

	st := newState(task)
	st.Plan = o.createPlan(ctx, task, logger)
	logger.Info("Plan ready",
		zap.Int("steps", len(st.Plan.Steps)),
		zap.String("complexity", st.Plan.Complexity),
	)

	res.Status, res.Reason = o.run(ctx, st, logger)
	res.Summary = o.summarize(ctx, st)
	res.Plan = st.Plan
	res.Steps = st.CompletedSteps
	res.StepsCount = len(st.CompletedSteps)
	res.Context = st.Context
	res.Duration = time.Since(start)

	o.metrics.RecordTask(string(res.Status))
	logger.Info("Task finished",
		zap.String("status", string(res.Status)),
		zap.String("reason", res.Reason),
		zap.Int("steps", res.StepsCount),
		zap.Duration("duration", res.Duration),
	)
	if o.cfg.TranscriptPath != "" {
		if err := WriteTranscript(o.cfg.TranscriptPath, res); err != nil {
			logger.Warn("Failed to write transcript", zap.Error(err))
		}
	}
	return res, nil
}

// run is the iteration loop. It returns the terminal status and its reason.
func (o *Orchestrator) run(ctx context.Context, st *State, logger *zap.Logger) (schemas.TaskStatus, string) {
	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		if err := o.signals.WaitWhilePaused(ctx); err != nil {
			return schemas.StatusPartial, interruption(err)
		}

		var next step
		switch {
		case iter == 1:
			first := st.Plan.Steps[0]
			next = step{skill: first.EstimatedSkill, instruction: first.Description, reason: "start of plan"}
		case st.visionComplete && len(st.CompletedSteps) >= len(st.Plan.Steps):
			logger.Info("Vision finished the last plan step")
			return schemas.StatusSuccess, fmt.Sprintf("completed in %d steps", len(st.CompletedSteps))
		default:
			d := o.decide(ctx, st, logger)
			if d.TaskComplete {
				st.oracleSummary = d.Summary
				return schemas.StatusSuccess, d.Reason
			}
			next = d.next(st)
		}

		next = o.route(st, next, logger)
		st.selections = append(st.selections, next.skill)
		if oscillating(st.selections) {
			logger.Warn("Skill oscillation detected", zap.Any("selections", st.selections[len(st.selections)-loopWindow:]))
			return schemas.StatusFailed, "loop detected"
		}

		logger.Info("Dispatching step",
			zap.Int("iteration", iter),
			zap.String("skill", string(next.skill)),
			zap.String("instruction", next.instruction),
			zap.String("reason", next.reason),
		)
		if status, reason, done := o.dispatch(ctx, st, next, logger); done {
			return status, reason
		}
	}
	return schemas.StatusPartial, fmt.Sprintf("iteration budget of %d exhausted", o.cfg.MaxIterations)
}

// route applies the rewrites that keep the oracle from repeating known
// mistakes. Everything it cannot place ends up on the vision skill.
func (o *Orchestrator) route(st *State, next step, logger *zap.Logger) step {
	if strings.TrimSpace(next.instruction) == "" {
		next.instruction = st.GlobalTask
	}
	from := next.skill
	switch {
	case o.cfg.VisionOnly:
		next.skill = schemas.SkillVision
	case next.skill == schemas.SkillOpenURL && st.openedURL:
		next.skill = schemas.SkillVision
	case next.skill == schemas.SkillFastPath && st.desktopApp() != "":
		next.skill = schemas.SkillVision
	}
	if _, ok := o.skills.Get(next.skill); !ok {
		next.skill = schemas.SkillVision
	}
	if from != next.skill {
		logger.Debug("Skill rerouted", zap.String("from", string(from)), zap.String("to", string(next.skill)))
	}
	return next
}

// dispatch runs one step, including the vision retry of a fast path that
// did not get through. done is set when the task must end here.
func (o *Orchestrator) dispatch(ctx context.Context, st *State, next step, logger *zap.Logger) (status schemas.TaskStatus, reason string, done bool) {
	out, err := o.invoke(ctx, st, next)
	if err == nil && next.skill == schemas.SkillFastPath && needsVision(out) {
		if _, ok := o.skills.Get(schemas.SkillVision); ok {
			logger.Info("Fast path did not get through, retrying with vision",
				zap.Any("error", out[skills.KeyError]),
				zap.Bool("needs_input", out[skills.KeyNeedsInput] == true),
			)
			next.skill = schemas.SkillVision
			out, err = o.invoke(ctx, st, next)
		}
	}

	switch {
	case errors.Is(err, control.ErrStopped):
		return schemas.StatusPartial, "stopped by user", true
	case errors.Is(err, skills.ErrUnavailable):
		logger.Error("Skill adapter unavailable", zap.String("skill", string(next.skill)))
		return schemas.StatusFailed, fmt.Sprintf("skill %s is unavailable", next.skill), true
	}
	return "", "", false
}

// invoke executes a single skill and records the step. Skill errors other
// than the terminal sentinels are folded into a failed result map.
func (o *Orchestrator) invoke(ctx context.Context, st *State, next step) (map[string]any, error) {
	st.CurrentSkill = next.skill

	var out map[string]any
	var err error
	if skill, ok := o.skills.Get(next.skill); ok {
		out, err = o.safeExecute(ctx, skill, next.instruction, st.snapshot())
	} else {
		err = skills.ErrUnavailable
	}
	if err != nil {
		failure := skills.Failure(err)
		for k, v := range out {
			if _, set := failure[k]; !set {
				failure[k] = v
			}
		}
		out = failure
	}
	if out == nil {
		out = map[string]any{skills.KeySuccess: false}
	}

	st.merge(out)
	if next.skill == schemas.SkillOpenURL && skills.Succeeded(out) {
		st.openedURL = true
	}
	if next.skill == schemas.SkillVision && out[skills.KeyTaskComplete] == true {
		st.visionComplete = true
		st.Context[contextVisionComplete] = true
	}
	st.CompletedSteps = append(st.CompletedSteps, schemas.StepRecord{
		ID:          uuid.NewString(),
		Skill:       next.skill,
		Instruction: next.instruction,
		Result:      out,
		Timestamp:   time.Now(),
	})
	o.metrics.RecordSkill(string(next.skill), skills.Succeeded(out))

	if errors.Is(err, control.ErrStopped) || errors.Is(err, skills.ErrUnavailable) {
		return out, err
	}
	return out, nil
}

// safeExecute turns a panicking skill into an error.
func (o *Orchestrator) safeExecute(ctx context.Context, skill skills.Skill, instruction string, state map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Skill panicked", zap.String("skill", string(skill.Name())), zap.Any("panic", r), zap.Stack("stack"))
			out, err = nil, fmt.Errorf("skill %s panicked: %v", skill.Name(), r)
		}
	}()
	return skill.Execute(ctx, instruction, state)
}

func needsVision(out map[string]any) bool {
	return !skills.Succeeded(out) || out[skills.KeyNeedsInput] == true
}

// -- Oracle calls --

// createPlan asks for the initial plan. Anything unusable becomes a single
// vision step carrying the whole task.
func (o *Orchestrator) createPlan(ctx context.Context, task string, logger *zap.Logger) schemas.TaskPlan {
	fallback := schemas.TaskPlan{
		Steps: []schemas.PlanStep{{StepIndex: 1, Description: task, EstimatedSkill: schemas.SkillVision}},
	}
	if o.cfg.VisionOnly {
		return fallback
	}

	raw, err := o.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: planSystemPrompt,
		UserPrompt:   fmt.Sprintf(planPromptTemplate, task),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.3, ForceJSONFormat: true, MaxTokens: 500},
	})
	if err != nil {
		logger.Warn("Planning call failed, falling back to vision", zap.Error(err))
		return fallback
	}
	plan, err := llmutil.ParseJSONResponse[schemas.TaskPlan](raw)
	if err != nil || len(plan.Steps) == 0 {
		logger.Warn("Plan was unusable, falling back to vision", zap.Error(err))
		return fallback
	}
	for i := range plan.Steps {
		s := &plan.Steps[i]
		s.StepIndex = i + 1
		s.EstimatedSkill = schemas.NormalizeSkill(strings.TrimSpace(string(s.EstimatedSkill)))
		if strings.TrimSpace(s.Description) == "" {
			s.Description = task
		}
	}
	return *plan
}

// decide asks what to do after the last step. Anything unusable switches to
// vision with the global task.
func (o *Orchestrator) decide(ctx context.Context, st *State, logger *zap.Logger) Decision {
	fallback := Decision{
		NextSkill:        string(schemas.SkillVision),
		SkillInstruction: st.GlobalTask,
		Reason:           "decision unavailable, falling back to vision",
	}

	plan, _ := json.MarshalToString(st.Plan)
	current := string(st.CurrentSkill)
	if current == "" {
		current = "none"
	}
	app := st.desktopApp()
	if app == "" {
		app = "none"
	}
	raw, err := o.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: decideSystemPrompt,
		UserPrompt: fmt.Sprintf(decidePromptTemplate,
			st.GlobalTask, plan, len(st.CompletedSteps), current, app,
			promptContext(st.Context, promptContextLimit)),
		Tier:    schemas.TierPowerful,
		Options: schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true, MaxTokens: 400},
	})
	if err != nil {
		logger.Warn("Decision call failed", zap.Error(err))
		return fallback
	}
	d, err := llmutil.ParseJSONResponse[Decision](raw)
	if err != nil {
		logger.Warn("Decision was not valid JSON", zap.Error(err))
		return fallback
	}
	logger.Debug("Decision", zap.Bool("continue", d.ContinueCurrentSkill), zap.String("reason", d.Reason))
	return *d
}

// summarize produces the user-facing summary of the final context.
func (o *Orchestrator) summarize(ctx context.Context, st *State) string {
	raw, err := o.llm.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(summaryPromptTemplate,
			st.GlobalTask, len(st.CompletedSteps), promptContext(st.Context, summaryContextLimit)),
		Tier:    schemas.TierFast,
		Options: schemas.GenerationOptions{Temperature: 0.3, MaxTokens: 100},
	})
	if summary := strings.TrimSpace(raw); err == nil && summary != "" {
		return summary
	}
	if st.oracleSummary != "" {
		return st.oracleSummary
	}
	return fmt.Sprintf("Task executed in %d steps", len(st.CompletedSteps))
}

// promptContext renders the context as JSON capped at limit runes. Values
// the encoder rejects are replaced by their printed form.
func promptContext(c map[string]any, limit int) string {
	s, err := json.MarshalToString(c)
	if err != nil {
		safe := make(map[string]any, len(c))
		for k, v := range c {
			if _, err := json.Marshal(v); err != nil {
				v = truncate(fmt.Sprint(v), 100)
			}
			safe[k] = v
		}
		s, _ = json.MarshalToString(safe)
	}
	return truncate(s, limit)
}

func interruption(err error) string {
	if errors.Is(err, control.ErrStopped) {
		return "stopped by user"
	}
	return fmt.Sprintf("interrupted: %v", err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
