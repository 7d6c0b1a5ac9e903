// Package matcher resolves a natural language target ("Search", "sign in
// button") against the elements of a fast-path DOM scan.
package matcher

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// Threshold is the minimum score a candidate needs to be returned.
const Threshold = 40

const (
	scoreExact       = 100
	scoreAttribute   = 90
	scorePrefix      = 75
	scoreSubstring   = 70
	scoreContained   = 60
	scoreAllWords    = 50
	scoreHalfWords   = 40
	containedMinimum = 0.4
)

// Match is the best element for a target. Found is false when nothing scored
// at least Threshold; that is a normal outcome, not an error.
type Match struct {
	Found   bool
	Element schemas.DOMElement
	Label   string
	Score   int
}

// Candidate is one scored element.
type Candidate struct {
	Element schemas.DOMElement
	Label   string
	Score   int
}

// label is the first non-empty human facing attribute, then id and name.
func label(el schemas.DOMElement) string {
	if l := el.Label(); l != "" {
		return strings.TrimSpace(l)
	}
	if el.ID != "" {
		return strings.TrimSpace(el.ID)
	}
	return strings.TrimSpace(el.Name)
}

// Score rates how well el matches target. The first applicable exact or
// substring rule sets the score; the word overlap rules can only raise it.
func Score(target string, el schemas.DOMElement) int {
	t := strings.ToLower(strings.TrimSpace(target))
	l := strings.ToLower(label(el))
	if t == "" || l == "" {
		return 0
	}

	score := 0
	switch {
	case l == t:
		score = scoreExact
	case attributeEquals(t, el):
		score = scoreAttribute
	case strings.HasPrefix(l, t):
		score = scorePrefix
	case strings.Contains(l, t):
		score = scoreSubstring
	case strings.Contains(t, l):
		if float64(len(l))/float64(len(t)) >= containedMinimum {
			score = scoreContained
		}
	}

	targetWords := wordSet(t)
	labelWords := wordSet(l)
	if len(targetWords) == 0 || len(labelWords) == 0 {
		return score
	}
	common := 0
	for w := range targetWords {
		if labelWords[w] {
			common++
		}
	}
	if common == len(targetWords) {
		score = max(score, scoreAllWords)
	}
	if float64(common) >= float64(len(targetWords))*0.5 {
		score = max(score, scoreHalfWords)
	}
	return score
}

func attributeEquals(target string, el schemas.DOMElement) bool {
	for _, attr := range []string{el.Text, el.Title, el.Aria, el.Placeholder, el.ID, el.Name} {
		if attr != "" && strings.ToLower(strings.TrimSpace(attr)) == target {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Rank returns every element scoring at least Threshold, best first. Equal
// scores keep scan order.
func Rank(target string, elements []schemas.DOMElement) []Candidate {
	var out []Candidate
	for _, el := range elements {
		s := Score(target, el)
		if s < Threshold {
			continue
		}
		out = append(out, Candidate{Element: el, Label: label(el), Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Best returns the highest scoring element for target.
func Best(target string, elements []schemas.DOMElement) Match {
	ranked := Rank(target, elements)
	if len(ranked) == 0 {
		return Match{}
	}
	c := ranked[0]
	return Match{Found: true, Element: c.Element, Label: c.Label, Score: c.Score}
}

// Filter keeps the elements of the given type. An empty type keeps everything.
func Filter(elements []schemas.DOMElement, typ schemas.DOMElementType) []schemas.DOMElement {
	if typ == "" {
		return elements
	}
	out := make([]schemas.DOMElement, 0, len(elements))
	for _, el := range elements {
		if el.Type == typ {
			out = append(out, el)
		}
	}
	return out
}
