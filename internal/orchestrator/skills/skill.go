// Package skills holds the execution strategies the orchestrator dispatches
// to. Every skill reports its outcome as a flat result map that is merged
// into the task context; failures the task can recover from are reported in
// the map, and only adapter failures are returned as errors.
package skills

import (
	"context"
	"errors"
	"sort"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// Result map keys shared by skills and the orchestrator.
const (
	KeySuccess      = "success"
	KeyError        = "error"
	KeyNeedsInput   = "needs_input"
	KeyApp          = "app"
	KeyTaskComplete = "task_complete"
	KeyURL          = "url"
	KeyTask         = "task"
)

// ErrUnavailable marks an adapter the skill needs but cannot reach. The
// orchestrator ends the task when it sees it.
var ErrUnavailable = errors.New("skill adapter unavailable")

// Skill is one pluggable execution strategy. state is the task context
// accumulated so far and must not be modified.
type Skill interface {
	Name() schemas.SkillName
	Execute(ctx context.Context, instruction string, state map[string]any) (map[string]any, error)
}

// Registry looks skills up by name.
type Registry struct {
	skills map[schemas.SkillName]Skill
}

// NewRegistry creates a registry holding skills.
func NewRegistry(skills ...Skill) *Registry {
	r := &Registry{skills: make(map[schemas.SkillName]Skill, len(skills))}
	for _, s := range skills {
		r.Register(s)
	}
	return r
}

// Register adds s, replacing any skill with the same name.
func (r *Registry) Register(s Skill) {
	r.skills[s.Name()] = s
}

// Get returns the skill registered under name.
func (r *Registry) Get(name schemas.SkillName) (Skill, bool) {
	s, ok := r.skills[name]
	return s, ok
}

// Names lists the registered skills in a stable order.
func (r *Registry) Names() []schemas.SkillName {
	names := make([]schemas.SkillName, 0, len(r.skills))
	for n := range r.skills {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Succeeded reads the success flag of a result map.
func Succeeded(res map[string]any) bool {
	ok, _ := res[KeySuccess].(bool)
	return ok
}

// Failure builds the result map of a failed attempt.
func Failure(err error) map[string]any {
	return map[string]any{KeySuccess: false, KeyError: err.Error()}
}

func stringValue(state map[string]any, key string) string {
	s, _ := state[key].(string)
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
