package schemas

import (
	"fmt"
	"strconv"
	"strings"
)

// -- Action Schemas --

// ActionKind enumerates the low-level actions the grounding model may choose.
type ActionKind string

const (
	ActionClickOnElement ActionKind = "click_on_element"
	ActionTypeText       ActionKind = "type_text"
	ActionPressKey       ActionKind = "press_key"
	ActionHotkey         ActionKind = "hotkey"
	ActionOpenURL        ActionKind = "open_url"
	ActionScroll         ActionKind = "scroll"
	ActionWait           ActionKind = "wait"
	ActionSequence       ActionKind = "sequence"
)

// MaxSequenceDepth bounds nesting of sequence decisions.
const MaxSequenceDepth = 3

// ActionDecision is the tagged union returned by the grounding oracle.
// Params holds the raw parameter map; the typed accessors below normalize the
// loosely typed values models tend to emit (ids as strings, keys as lists).
type ActionDecision struct {
	Kind      ActionKind       `json:"action" yaml:"action"`
	Params    map[string]any   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Reasoning string           `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Steps     []ActionDecision `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// WaitDecision is the safe default used whenever a decision cannot be parsed.
func WaitDecision(seconds float64, reasoning string) ActionDecision {
	return ActionDecision{
		Kind:      ActionWait,
		Params:    map[string]any{"seconds": seconds},
		Reasoning: reasoning,
	}
}

// Int reads an integer parameter, accepting JSON numbers and numeric strings.
func (d ActionDecision) Int(key string) (int, bool) {
	v, ok := d.Params[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// Float reads a numeric parameter, falling back to def.
func (d ActionDecision) Float(key string, def float64) float64 {
	v, ok := d.Params[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	}
	return def
}

// String reads a string parameter. Non-string scalars are formatted.
func (d ActionDecision) String(key string) string {
	v, ok := d.Params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Keys reads a key combination given either as "ctrl+l" or ["ctrl", "l"].
func (d ActionDecision) Keys(key string) []string {
	v, ok := d.Params[key]
	if !ok || v == nil {
		return nil
	}
	var keys []string
	switch k := v.(type) {
	case string:
		for _, part := range strings.Split(k, "+") {
			if p := strings.TrimSpace(part); p != "" {
				keys = append(keys, p)
			}
		}
	case []string:
		keys = append(keys, k...)
	case []any:
		for _, part := range k {
			if s := strings.TrimSpace(fmt.Sprint(part)); s != "" {
				keys = append(keys, s)
			}
		}
	}
	return keys
}

// Describe renders a short human readable form for logs and history.
func (d ActionDecision) Describe() string {
	switch d.Kind {
	case ActionSequence:
		parts := make([]string, 0, len(d.Steps))
		for _, s := range d.Steps {
			parts = append(parts, s.Describe())
		}
		return fmt.Sprintf("sequence[%s]", strings.Join(parts, ", "))
	case ActionClickOnElement:
		id, _ := d.Int("id")
		return fmt.Sprintf("click_on_element(%d)", id)
	case ActionTypeText:
		return fmt.Sprintf("type_text(%q)", d.String("text"))
	case ActionPressKey:
		return fmt.Sprintf("press_key(%s)", d.String("key"))
	case ActionHotkey:
		return fmt.Sprintf("hotkey(%s)", strings.Join(d.Keys("keys"), "+"))
	case ActionOpenURL:
		return fmt.Sprintf("open_url(%s)", d.String("url"))
	case ActionScroll:
		return fmt.Sprintf("scroll(%d)", int(d.Float("clicks", -3)))
	case ActionWait:
		return fmt.Sprintf("wait(%gs)", d.Float("seconds", 1))
	}
	return string(d.Kind)
}
