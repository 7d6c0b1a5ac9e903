// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// fencedBlockRegex extracts the body of a markdown code block, with or without a json tag.
	fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(.*?)\\s*\x60\x60\x60")
)

// ErrNoJSON is returned when a response contains no balanced JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON returns the first balanced {...} object in s. Braces inside JSON
// strings are ignored, so prose like `{"a": "}"}` extracts whole.
func ExtractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start != -1 {
		if end := matchBrace(s, start); end != -1 {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues: markdown code fences and JSON embedded in prose.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	candidate := response

	if m := fencedBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		candidate = m[1]
	}
	if !strings.HasPrefix(candidate, "{") && !strings.HasPrefix(candidate, "[") {
		obj, ok := ExtractJSON(candidate)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoJSON, truncateString(response, 200))
		}
		candidate = obj
	} else if strings.HasPrefix(candidate, "{") {
		// Trailing prose after a leading object.
		if obj, ok := ExtractJSON(candidate); ok {
			candidate = obj
		}
	}

	var result T
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		// Provide a detailed error message including the extracted JSON snippet.
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(candidate, 500))
	}
	return &result, nil
}

// wireDecision accepts both "params" and "parameters", and sequence steps
// either at the top level or nested under the parameters.
type wireDecision struct {
	Action     string         `json:"action"`
	Params     map[string]any `json:"params"`
	Parameters map[string]any `json:"parameters"`
	Steps      []any          `json:"steps"`
	Reasoning  string         `json:"reasoning"`
}

// ParseDecision decodes a grounding oracle response into an ActionDecision.
func ParseDecision(response string) (schemas.ActionDecision, error) {
	w, err := ParseJSONResponse[wireDecision](response)
	if err != nil {
		return schemas.ActionDecision{}, err
	}
	d := w.toDecision(1)
	if d.Kind == "" {
		return schemas.ActionDecision{}, errors.New("decision has no action")
	}
	return d, nil
}

// DecodeDecision is ParseDecision with the safe default: anything malformed
// becomes a two second wait carrying the reason.
func DecodeDecision(response string) schemas.ActionDecision {
	d, err := ParseDecision(response)
	if err != nil {
		reason := "Parse failed: " + err.Error()
		if errors.Is(err, ErrNoJSON) {
			reason = "No JSON found"
		}
		return schemas.WaitDecision(2, truncateString(reason, 200))
	}
	return d
}

func (w *wireDecision) toDecision(depth int) schemas.ActionDecision {
	params := w.Params
	if params == nil {
		params = w.Parameters
	}
	steps := w.Steps
	if nested, ok := params["steps"].([]any); ok && steps == nil {
		steps = nested
	}

	d := schemas.ActionDecision{
		Kind:      schemas.ActionKind(strings.ToLower(strings.TrimSpace(w.Action))),
		Params:    params,
		Reasoning: w.Reasoning,
	}
	if d.Kind != schemas.ActionSequence {
		return d
	}

	d.Params = nil
	for k, v := range params {
		if k == "steps" {
			continue
		}
		if d.Params == nil {
			d.Params = make(map[string]any)
		}
		d.Params[k] = v
	}
	if depth >= schemas.MaxSequenceDepth {
		return d
	}
	for _, raw := range steps {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sub := wireFromMap(m)
		d.Steps = append(d.Steps, sub.toDecision(depth+1))
	}
	return d
}

func wireFromMap(m map[string]any) *wireDecision {
	w := &wireDecision{}
	w.Action, _ = m["action"].(string)
	w.Reasoning, _ = m["reasoning"].(string)
	w.Params, _ = m["params"].(map[string]any)
	w.Parameters, _ = m["parameters"].(map[string]any)
	w.Steps, _ = m["steps"].([]any)
	return w
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
