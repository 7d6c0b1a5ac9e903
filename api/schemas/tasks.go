package schemas

import "time"

// -- Task Schemas --

// SkillName identifies a pluggable execution strategy.
type SkillName string

const (
	SkillOpenURL     SkillName = "open_url"
	SkillFastPath    SkillName = "fast_path"
	SkillVision      SkillName = "vision"
	SkillFileManager SkillName = "file_manager"
	SkillAppLauncher SkillName = "app_launcher"
	SkillRunCommand  SkillName = "run_command"
)

// skillAliases maps the legacy names models still produce onto canonical skills.
var skillAliases = map[string]SkillName{
	"web_helper":     SkillFastPath,
	"playwright":     SkillFastPath,
	"dom":            SkillFastPath,
	"cua_vision":     SkillVision,
	"cua":            SkillVision,
	"vision_loop":    SkillVision,
	"gui_controller": SkillVision,
	"shell":          SkillRunCommand,
	"command":        SkillRunCommand,
	"files":          SkillFileManager,
	"launcher":       SkillAppLauncher,
}

// NormalizeSkill canonicalizes a skill name coming from an oracle.
func NormalizeSkill(name string) SkillName {
	if alias, ok := skillAliases[name]; ok {
		return alias
	}
	return SkillName(name)
}

// PlanStep is one entry of a TaskPlan.
type PlanStep struct {
	StepIndex      int       `json:"step" yaml:"step"`
	Description    string    `json:"description" yaml:"description"`
	EstimatedSkill SkillName `json:"estimated_skill" yaml:"estimated_skill"`
}

// TaskPlan is produced once per top-level task and only consulted afterwards.
type TaskPlan struct {
	Steps      []PlanStep `json:"steps" yaml:"steps"`
	Complexity string     `json:"complexity,omitempty" yaml:"complexity,omitempty"`
}

// StepRecord is one completed orchestrator step.
type StepRecord struct {
	ID          string         `json:"id" yaml:"id"`
	Skill       SkillName      `json:"skill" yaml:"skill"`
	Instruction string         `json:"instruction" yaml:"instruction"`
	Result      map[string]any `json:"result" yaml:"result"`
	Timestamp   time.Time      `json:"timestamp" yaml:"timestamp"`
}

// TaskStatus is the terminal status of an orchestrated task or a control loop run.
type TaskStatus string

const (
	StatusSuccess TaskStatus = "success"
	StatusPartial TaskStatus = "partial"
	StatusFailed  TaskStatus = "failed"
)

// TaskResult is what the orchestrator hands back to its caller.
type TaskResult struct {
	TaskID     string         `json:"task_id" yaml:"task_id"`
	Task       string         `json:"task" yaml:"task"`
	Status     TaskStatus     `json:"status" yaml:"status"`
	Summary    string         `json:"summary" yaml:"summary"`
	Reason     string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	StepsCount int            `json:"steps_count" yaml:"steps_count"`
	Plan       TaskPlan       `json:"plan" yaml:"plan"`
	Steps      []StepRecord   `json:"steps" yaml:"steps"`
	Context    map[string]any `json:"context" yaml:"context"`
	Duration   time.Duration  `json:"duration" yaml:"duration"`
}

// -- DOM Schemas --

// DOMElementType separates things you click from things you type into.
type DOMElementType string

const (
	DOMClickable DOMElementType = "clickable"
	DOMInput     DOMElementType = "input"
)

// DOMElement is one interactable element found by a fast-path page scan.
// Index is its position in the scan and is only valid for that scan.
type DOMElement struct {
	Index       int            `json:"index"`
	Type        DOMElementType `json:"type"`
	Tag         string         `json:"tag,omitempty"`
	Text        string         `json:"text,omitempty"`
	Aria        string         `json:"aria,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Title       string         `json:"title,omitempty"`
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name,omitempty"`
}

// Label returns the most human-facing attribute of the element.
func (e DOMElement) Label() string {
	for _, s := range []string{e.Text, e.Aria, e.Placeholder, e.Title} {
		if s != "" {
			return s
		}
	}
	return ""
}
