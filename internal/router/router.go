// Package router implements the DOM fast path: a planner suggestion is turned
// into a single DOM action on the current page. Any failure tells the caller
// to fall back to the vision loop; nothing is retried here.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/llmutil"
	"github.com/xkilldash9x/scalpel-pilot/internal/matcher"
)

// ExtractedContentKey is the payload key carrying page content from a read.
const ExtractedContentKey = "extracted_web_content"

const (
	maxPromptElements = 50
	defaultWait       = 2 * time.Second
	enterDelay        = 300 * time.Millisecond
)

// Page is the DOM adapter the fast path drives. Element indices refer to the
// most recent ScanElements call.
type Page interface {
	ScanElements(ctx context.Context) ([]schemas.DOMElement, error)
	ClickElement(ctx context.Context, index int) error
	// FillElement focuses the element, clears it and types text.
	FillElement(ctx context.Context, index int, text string) error
	PressEnter(ctx context.Context) error
	PageText(ctx context.Context) (string, error)
	// PageMarkdown returns the main page content converted to Markdown.
	PageMarkdown(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
}

// Action is one of the verbs the fast path understands.
type Action string

const (
	ActionClick Action = "click"
	ActionType  Action = "type"
	ActionEnter Action = "enter"
	ActionWait  Action = "wait"
	ActionRead  Action = "read"
)

// Result reports what the fast path did. Success false means the caller
// should run the vision loop. Retriable marks timeouts.
type Result struct {
	Success      bool
	Action       Action
	Target       string
	ElementIndex int
	Reason       string
	Retriable    bool
	Payload      map[string]any
}

// decision is the oracle's structured reading of a suggestion.
type decision struct {
	Action       string `json:"action"`
	Target       string `json:"target"`
	ElementIndex any    `json:"element_index"`
	Text         string `json:"text"`
	PressEnter   bool   `json:"press_enter"`
	Duration     any    `json:"duration"`
	Reason       string `json:"reason"`
}

// Router executes suggestions through a Page.
type Router struct {
	page    Page
	llm     schemas.LLMClient
	logger  *zap.Logger
	maxWait time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Router. maxWait caps wait actions.
func New(page Page, llm schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return &Router{
		page:    page,
		llm:     llm,
		logger:  logger.Named("router"),
		maxWait: maxWait,
		sleep:   sleepCtx,
	}
}

// TryExecute scans the page, asks the oracle which DOM action matches the
// suggestion and performs it.
func (r *Router) TryExecute(ctx context.Context, suggestion, task string) Result {
	elements, err := r.page.ScanElements(ctx)
	if err != nil {
		return r.fail(Result{ElementIndex: -1}, fmt.Sprintf("page scan failed: %v", err), err)
	}
	if len(elements) == 0 {
		return Result{ElementIndex: -1, Reason: "no interactable elements on the page"}
	}

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(suggestion, task, elements),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.01, ForceJSONFormat: true, MaxTokens: 256},
	}
	raw, err := r.llm.Generate(ctx, req)
	if err != nil {
		return r.fail(Result{ElementIndex: -1}, fmt.Sprintf("decision oracle failed: %v", err), err)
	}
	d, err := llmutil.ParseJSONResponse[decision](raw)
	if err != nil {
		return Result{ElementIndex: -1, Reason: "could not parse a DOM action from the suggestion"}
	}

	res := r.execute(ctx, *d, elements)
	r.logger.Info("Fast path attempt",
		zap.String("suggestion", suggestion),
		zap.String("action", string(res.Action)),
		zap.Int("element", res.ElementIndex),
		zap.Bool("success", res.Success),
		zap.String("reason", res.Reason),
	)
	return res
}

func (r *Router) execute(ctx context.Context, d decision, elements []schemas.DOMElement) Result {
	action := Action(strings.ToLower(strings.TrimSpace(d.Action)))
	res := Result{Action: action, Target: strings.TrimSpace(d.Target), ElementIndex: -1}

	switch action {
	case ActionClick:
		idx, reason := r.resolve(d, res.Target, elements, schemas.DOMClickable)
		if idx < 0 {
			res.Reason = reason
			return res
		}
		res.ElementIndex = idx
		if err := r.page.ClickElement(ctx, idx); err != nil {
			return r.outcome(res, err, "click")
		}
		res.Success = true
		res.Reason = "clicked " + describe(elements[idx])
		return res

	case ActionType:
		idx, reason := r.resolve(d, res.Target, elements, schemas.DOMInput)
		if idx < 0 {
			res.Reason = reason
			return res
		}
		res.ElementIndex = idx
		if err := r.page.FillElement(ctx, idx, d.Text); err != nil {
			return r.outcome(res, err, "type")
		}
		res.Success = true
		res.Reason = fmt.Sprintf("typed %q into %s", d.Text, describe(elements[idx]))
		if d.PressEnter {
			if err := r.sleep(ctx, enterDelay); err != nil {
				return r.fail(res, "interrupted before pressing Enter", err)
			}
			if err := r.page.PressEnter(ctx); err != nil {
				return r.outcome(res, err, "press Enter")
			}
			res.Reason += " and pressed Enter"
		}
		return res

	case ActionEnter:
		if err := r.page.PressEnter(ctx); err != nil {
			return r.outcome(res, err, "press Enter")
		}
		res.Success = true
		res.Reason = "pressed Enter"
		return res

	case ActionWait:
		wait := defaultWait
		if secs, ok := toFloat(d.Duration); ok && secs > 0 {
			wait = time.Duration(secs * float64(time.Second))
		}
		wait = min(wait, r.maxWait)
		if err := r.sleep(ctx, wait); err != nil {
			return r.fail(res, "wait interrupted", err)
		}
		res.Success = true
		res.Reason = fmt.Sprintf("waited %s", wait)
		return res

	case ActionRead:
		content, err := r.page.PageMarkdown(ctx)
		if err != nil {
			return r.outcome(res, err, "read page")
		}
		res.Success = true
		res.Reason = fmt.Sprintf("extracted %d characters of page content", len(content))
		res.Payload = map[string]any{ExtractedContentKey: content}
		return res
	}

	res.Reason = fmt.Sprintf("unsupported fast path action %q", d.Action)
	return res
}

// resolve picks the element index: the oracle's index when it is valid,
// otherwise the best matcher candidate of the preferred type.
func (r *Router) resolve(d decision, target string, elements []schemas.DOMElement, prefer schemas.DOMElementType) (int, string) {
	if idx, ok := toInt(d.ElementIndex); ok && idx >= 0 && idx < len(elements) {
		return idx, ""
	}
	if target == "" {
		return -1, "no element index or target given"
	}
	m := matcher.Best(target, matcher.Filter(elements, prefer))
	if !m.Found {
		return -1, fmt.Sprintf("no %s element matches %q", prefer, target)
	}
	if m.Element.Index < 0 || m.Element.Index >= len(elements) {
		return -1, fmt.Sprintf("matched element index %d is stale", m.Element.Index)
	}
	r.logger.Debug("Resolved target through matcher",
		zap.String("target", target),
		zap.String("label", m.Label),
		zap.Int("score", m.Score),
	)
	return m.Element.Index, ""
}

// outcome classifies an execution error. A page navigation triggered by the
// action itself tears down the execution context, which means it worked.
func (r *Router) outcome(res Result, err error, what string) Result {
	if IsNavigationError(err) {
		res.Success = true
		res.Reason = what + " triggered a page navigation"
		return res
	}
	return r.fail(res, fmt.Sprintf("%s failed: %v", what, err), err)
}

func (r *Router) fail(res Result, reason string, err error) Result {
	res.Success = false
	res.Reason = reason
	res.Retriable = IsTimeout(err)
	return res
}

// IsNavigationError reports whether err came from the page navigating away
// mid-action.
func IsNavigationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context destroyed") ||
		strings.Contains(msg, "context was destroyed") ||
		strings.Contains(msg, "execution context")
}

// IsTimeout reports whether err is a deadline or timeout failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func describe(el schemas.DOMElement) string {
	label := el.Label()
	if label == "" {
		label = el.ID
	}
	if label == "" {
		label = el.Name
	}
	return fmt.Sprintf("[%s] %q", el.Type, truncate(label, 60))
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
