package router

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

const systemPrompt = `You convert a suggestion for the next UI step into one browser DOM action.
Respond with JSON only, no surrounding text.`

// FormatElements renders at most limit scanned elements for the oracle,
// one per line, with a trailing count of the elements left out.
func FormatElements(elements []schemas.DOMElement, limit int) string {
	if len(elements) == 0 {
		return "No elements found on the page."
	}
	if limit <= 0 || limit > len(elements) {
		limit = len(elements)
	}

	var sb strings.Builder
	for i, el := range elements[:limit] {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. [%s]", i, el.Type)
		attr := func(name, value string, n int) {
			if value != "" {
				fmt.Fprintf(&sb, " %s='%s'", name, truncate(value, n))
			}
		}
		attr("text", el.Text, 50)
		attr("aria", el.Aria, 50)
		attr("placeholder", el.Placeholder, 50)
		attr("title", el.Title, 50)
		attr("id", el.ID, 30)
		attr("name", el.Name, 30)
	}
	if rest := len(elements) - limit; rest > 0 {
		fmt.Fprintf(&sb, "\n... and %d more elements", rest)
	}
	return sb.String()
}

func buildPrompt(suggestion, task string, elements []schemas.DOMElement) string {
	return fmt.Sprintf(`GLOBAL TASK: %s
SUGGESTION: %s

ELEMENTS AVAILABLE ON THE PAGE:
%s

POSSIBLE ACTIONS:
- click: click an element (button, link...)
- type: type text into a field
- enter: press Enter
- wait: wait for the page
- read: extract the page content

RULES:
1. Answer with JSON only.
2. Pick the element from the list that best matches the suggestion.
3. click: {"action": "click", "element_index": INDEX, "target": "element text", "reason": "..."}
4. type: {"action": "type", "element_index": INDEX, "target": "Email", "text": "user@example.com", "press_enter": false, "reason": "..."}
5. enter: {"action": "enter"}
6. wait: {"action": "wait", "duration": SECONDS}
7. read: {"action": "read"}
8. If nothing fits, answer null.

EXAMPLES:
Elements: 0. [clickable] text='Sign In' | 1. [clickable] text='Login'
Suggestion: "Click the Login button"
Answer: {"action": "click", "element_index": 1, "target": "Login"}

Elements: 0. [input] name='q' placeholder='Search'
Suggestion: "Search for weather"
Answer: {"action": "type", "element_index": 0, "target": "Search", "text": "weather", "press_enter": true}`,
		task, suggestion, FormatElements(elements, maxPromptElements))
}

// truncate cuts s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
