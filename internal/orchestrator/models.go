package orchestrator

import (
	"maps"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/orchestrator/skills"
)

// loopWindow is how many recent skill selections the oscillation check sees.
const loopWindow = 6

// contextVisionComplete is set in the task context once a vision run reports
// the task finished.
const contextVisionComplete = "vision_complete"

// State is everything the orchestrator knows about one task. Context only
// ever grows: skill results are merged into it key by key.
type State struct {
	GlobalTask     string               `json:"global_task" yaml:"global_task"`
	Plan           schemas.TaskPlan     `json:"plan" yaml:"plan"`
	CompletedSteps []schemas.StepRecord `json:"completed_steps" yaml:"completed_steps"`
	CurrentSkill   schemas.SkillName    `json:"current_skill" yaml:"current_skill"`
	Context        map[string]any       `json:"context" yaml:"context"`

	openedURL      bool
	visionComplete bool
	selections     []schemas.SkillName
	oracleSummary  string
}

func newState(task string) *State {
	return &State{GlobalTask: task, Context: make(map[string]any)}
}

// merge folds a skill result into the context.
func (s *State) merge(res map[string]any) {
	for k, v := range res {
		s.Context[k] = v
	}
}

// snapshot is the read-only view handed to a skill.
func (s *State) snapshot() map[string]any {
	view := maps.Clone(s.Context)
	view[skills.KeyTask] = s.GlobalTask
	return view
}

// desktopApp returns the desktop application launched during the task, if any.
func (s *State) desktopApp() string {
	app, _ := s.Context[skills.KeyApp].(string)
	return app
}

// Decision is the decision oracle's answer between two steps.
type Decision struct {
	ContinueCurrentSkill bool   `json:"continue_current_skill"`
	Reason               string `json:"reason"`
	NextInstruction      string `json:"next_instruction"`
	NextSkill            string `json:"next_skill"`
	SkillInstruction     string `json:"skill_instruction"`
	TaskComplete         bool   `json:"task_complete"`
	Summary              string `json:"summary"`
}

// step is one skill dispatch.
type step struct {
	skill       schemas.SkillName
	instruction string
	reason      string
}

// next turns a decision into the step it asks for.
func (d Decision) next(st *State) step {
	if d.ContinueCurrentSkill && st.CurrentSkill != "" {
		return step{skill: st.CurrentSkill, instruction: d.NextInstruction, reason: d.Reason}
	}
	return step{skill: schemas.NormalizeSkill(d.NextSkill), instruction: d.SkillInstruction, reason: d.Reason}
}

// oscillating reports whether the last selections alternate between two
// different skills three times over.
func oscillating(selections []schemas.SkillName) bool {
	if len(selections) < loopWindow {
		return false
	}
	w := selections[len(selections)-loopWindow:]
	a, b := w[0], w[1]
	if a == b {
		return false
	}
	for i, s := range w {
		if (i%2 == 0 && s != a) || (i%2 == 1 && s != b) {
			return false
		}
	}
	return true
}
