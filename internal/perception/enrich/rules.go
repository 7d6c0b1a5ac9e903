package enrich

import "strings"

// VisualRule rewrites a raw detector caption into a short visual
// description. A rule matches when the lowercased caption contains every
// needle in All and, if Any is non-empty, at least one needle in Any.
type VisualRule struct {
	All    []string
	Any    []string
	Result string
}

func (r VisualRule) matches(lower string) bool {
	for _, n := range r.All {
		if !strings.Contains(lower, n) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return true
	}
	for _, n := range r.Any {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// VisualRules is evaluated in order; the first match wins.
var VisualRules = []VisualRule{
	{All: []string{"magnifying glass"}, Result: "magnifying glass icon"},
	{All: []string{"arrow", "left"}, Result: "left arrow icon"},
	{All: []string{"arrow", "right"}, Result: "right arrow icon"},
	{All: []string{"arrow"}, Result: "arrow icon"},
	{Any: []string{"cross", ` "x" `, " x "}, Result: "x icon"},
	{All: []string{"star"}, Result: "star icon"},
	{All: []string{"folder"}, Result: "folder icon"},
	{All: []string{"logo"}, Result: "logo"},
	{All: []string{"circle", "letter"}, Result: "letter in circle icon"},
}

// FunctionPattern maps a substring of the visual description to the
// functions it suggests. The first function is the one assigned.
type FunctionPattern struct {
	Pattern   string
	Functions []string
}

// FunctionPatterns is evaluated in order. More specific phrases precede the
// generic ones they contain ("left arrow" before "arrow").
var FunctionPatterns = []FunctionPattern{
	{"arrow pointing left", []string{"back"}},
	{"left arrow", []string{"back", "previous"}},
	{"back arrow", []string{"back", "previous"}},
	{"arrow pointing right", []string{"forward"}},
	{"right arrow", []string{"forward", "next"}},
	{"forward arrow", []string{"forward", "next"}},
	{"arrow", []string{"navigation", "direction"}},

	{"x icon", []string{"close"}},
	{"x button", []string{"close"}},
	{"black cross", []string{"close"}},
	{"white cross", []string{"close"}},
	{"cross", []string{"close", "exit", "dismiss"}},

	{"magnifying glass", []string{"search_or_zoom"}},
	{"search icon", []string{"search_or_zoom"}},
	{"loupe", []string{"search_or_zoom"}},
	{"search bar", []string{"search"}},
	{"search field", []string{"search"}},

	{"star", []string{"favorite", "bookmark"}},
	{"plus", []string{"add", "new", "create"}},
	{"minus", []string{"remove", "delete", "minimize"}},
	{"gear", []string{"settings"}},
	{"cog", []string{"settings"}},

	{"three dots", []string{"menu", "more"}},
	{"hamburger", []string{"menu", "navigation"}},
	{"three lines", []string{"menu", "navigation"}},

	{"google", []string{"logo", "branding"}},
	{"facebook", []string{"logo", "link"}},
	{"github", []string{"logo", "link"}},
	{"logo", []string{"branding", "visual"}},
}

// SearchHintKeywords in nearby OCR text turn a search control into an input.
var SearchHintKeywords = []string{"rechercher", "search", "saisir", "type here", "search or type"}

// BrowserZones names layout zones when enriching a browser frame.
var BrowserZones = map[string]string{
	"top-left":   "browser navigation",
	"top-right":  "browser controls",
	"top-center": "browser toolbar",
	"center":     "main content",
	"bottom":     "taskbar or footer",
}

// FunctionUnknown is assigned when no pattern matches.
const FunctionUnknown = "unknown"

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
