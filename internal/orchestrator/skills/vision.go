package skills

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/agent"
	"github.com/xkilldash9x/scalpel-pilot/internal/control"
)

// VisionRunner is the control loop as the vision skill drives it.
type VisionRunner interface {
	RunWithBudget(ctx context.Context, task string, maxSteps int) agent.Result
}

// Vision hands the instruction to the screenshot control loop.
type Vision struct {
	runner   VisionRunner
	maxSteps int
}

// NewVision creates the vision skill. maxSteps bounds one dispatch.
func NewVision(runner VisionRunner, maxSteps int) *Vision {
	return &Vision{runner: runner, maxSteps: maxSteps}
}

func (s *Vision) Name() schemas.SkillName { return schemas.SkillVision }

// Execute runs the loop. A user stop is returned as control.ErrStopped so the
// orchestrator ends the task instead of planning further.
func (s *Vision) Execute(ctx context.Context, instruction string, _ map[string]any) (map[string]any, error) {
	if s.runner == nil {
		return nil, ErrUnavailable
	}
	r := s.runner.RunWithBudget(ctx, instruction, s.maxSteps)

	out := map[string]any{
		KeySuccess:      r.Completed,
		KeyTaskComplete: r.Completed,
		"status":        string(r.Status),
		"steps":         r.Steps,
	}
	if last := len(r.History); last > 0 {
		out["last_result"] = r.History[last-1].Result
	}
	for k, v := range r.Payload {
		out[k] = v
	}
	if !r.Completed && r.Reason != "" {
		out[KeyError] = r.Reason
	}
	if r.Stopped {
		out["stopped"] = true
		return out, fmt.Errorf("vision loop ended: %w", control.ErrStopped)
	}
	return out, nil
}
