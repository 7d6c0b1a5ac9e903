package agent

import (
	"fmt"
	"regexp"
	"strings"
)

const plannerSystemPrompt = `You are the planner of a screen automation agent. You look at a screenshot
and decide, in plain language, what the next step toward the task is.
Never mention element ids or pixel coordinates, only descriptions.`

const groundingSystemPrompt = `You are the executor of a screen automation agent. The screenshot carries
numbered boxes; every number is an element id you may act on.
Respond with a single JSON object and nothing else.`

// searchKeywords mark suggestions that want text typed into a search box.
var searchKeywords = []string{"search", "look up", "chercher", "rechercher", "taper", "saisir"}

var quotedText = regexp.MustCompile(`['"“”]([^'"“”]+)['"“”]`)

// plannerContext is everything the planner sees besides the frame.
type plannerContext struct {
	Task          string
	URL           string
	LastAction    string
	RecentSteps   []string
	ChangeSummary string
}

func buildPlannerPrompt(pc plannerContext) string {
	steps := "- none"
	if len(pc.RecentSteps) > 0 {
		lines := make([]string, len(pc.RecentSteps))
		for i, s := range pc.RecentSteps {
			lines[i] = "- " + s
		}
		steps = strings.Join(lines, "\n")
	}
	changes := pc.ChangeSummary
	if changes == "" {
		changes = "no change information"
	}

	return fmt.Sprintf(`GLOBAL TASK: %s
CURRENT URL: %s

PREVIOUS ACTION: %s

STEPS ALREADY DONE:
%s

SCREEN CHANGES: %s

LOOK AT THE IMAGE and answer in JSON:
1. "description": briefly describe what you see (application, state, main elements)
2. "suggestion": what to do NOW to make progress on the task (plain language, generic)
3. "task_complete": true only if the global task is fully done

ANSWER ONLY with valid JSON:
{
  "description": "...",
  "suggestion": "...",
  "task_complete": false
}`, pc.Task, pc.URL, pc.LastAction, steps, changes)
}

// searchText returns the quoted text of a search-intent suggestion.
func searchText(suggestion string) (string, bool) {
	lower := strings.ToLower(suggestion)
	intent := false
	for _, kw := range searchKeywords {
		if strings.Contains(lower, kw) {
			intent = true
			break
		}
	}
	if !intent {
		return "", false
	}
	m := quotedText.FindStringSubmatch(suggestion)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func buildGroundingPrompt(task, suggestion, elements string) string {
	if text, ok := searchText(suggestion); ok {
		return fmt.Sprintf(`LOOK AT the annotated image. Every number marks an element you can act on.

HIGH LEVEL SUGGESTION: %s

%s

FIND the number of the SEARCH BAR and answer ONLY with this JSON:
{
  "action": "sequence",
  "params": {
    "steps": [
      {"action": "click_on_element", "params": {"id": SEARCH_BAR_ID}},
      {"action": "type_text", "params": {"text": %q}},
      {"action": "press_key", "params": {"key": "enter"}}
    ]
  }
}`, suggestion, elements, text)
	}

	return fmt.Sprintf(`LOOK AT the annotated image. Every number marks an element you can act on.

GLOBAL TASK: %s

HIGH LEVEL SUGGESTION: %s

%s

Pick the single next action that makes progress. Available actions:
- {"action": "click_on_element", "params": {"id": ID}}
- {"action": "type_text", "params": {"text": "..."}}
- {"action": "press_key", "params": {"key": "enter"}}
- {"action": "hotkey", "params": {"keys": ["ctrl", "l"]}}
- {"action": "open_url", "params": {"url": "https://..."}}
- {"action": "scroll", "params": {"clicks": -3}}
- {"action": "wait", "params": {"seconds": 2}}
- {"action": "sequence", "params": {"steps": [ ... ]}}

Prefer click_on_element when the suggestion names something visible.
Add a short "reasoning" field. Answer ONLY with valid JSON.`, task, suggestion, elements)
}
