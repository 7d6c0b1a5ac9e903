// internal/agent/executors.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/control"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception/preprocess"
	"github.com/xkilldash9x/scalpel-pilot/internal/router"
)

const (
	defaultScrollClicks = -3
	defaultWaitSeconds  = 1.0
	sequenceSeparator   = " → "
)

// Frame is what an executor needs to turn element ids into screen
// coordinates: the current element list and the mapping from processed to
// captured coordinates.
type Frame struct {
	Elements []schemas.EnrichedElement
	Geometry preprocess.Result
}

// ActionExecutor runs a single decision kind.
type ActionExecutor func(ctx context.Context, d schemas.ActionDecision, frame Frame) ExecutionResult

// -- Executor Registry --

// ExecutorRegistry dispatches decisions to the executor registered for their
// kind. Sequences are expanded here so every sub-step goes through the same
// dispatch.
type ExecutorRegistry struct {
	logger      *zap.Logger
	input       InputDriver
	executors   map[schemas.ActionKind]ActionExecutor
	signals     *control.Signals
	sequenceGap time.Duration
	maxWait     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewExecutorRegistry creates a registry with the built-in executors.
func NewExecutorRegistry(input InputDriver, cfg config.AgentConfig, signals *control.Signals, logger *zap.Logger) *ExecutorRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	gap := cfg.SequenceGap
	if gap < 0 {
		gap = 0
	}
	r := &ExecutorRegistry{
		logger:      logger.Named("executor_registry"),
		input:       input,
		executors:   make(map[schemas.ActionKind]ActionExecutor),
		signals:     signals,
		sequenceGap: gap,
		maxWait:     maxWait,
		sleep:       sleepCtx,
	}

	r.Register(schemas.ActionClickOnElement, r.clickOnElement)
	r.Register(schemas.ActionTypeText, r.typeText)
	r.Register(schemas.ActionPressKey, r.pressKey)
	r.Register(schemas.ActionHotkey, r.hotkey)
	r.Register(schemas.ActionOpenURL, r.openURL)
	r.Register(schemas.ActionScroll, r.scroll)
	r.Register(schemas.ActionWait, r.wait)
	return r
}

// Register associates an executor with an action kind, replacing any
// previous one.
func (r *ExecutorRegistry) Register(kind schemas.ActionKind, exec ActionExecutor) {
	r.executors[kind] = exec
}

// Execute runs d. Unknown kinds and executor panics are reported in the
// result.
func (r *ExecutorRegistry) Execute(ctx context.Context, d schemas.ActionDecision, frame Frame) ExecutionResult {
	return r.execute(ctx, d, frame, 1)
}

func (r *ExecutorRegistry) execute(ctx context.Context, d schemas.ActionDecision, frame Frame, depth int) (res ExecutionResult) {
	if d.Kind == schemas.ActionSequence {
		return r.sequence(ctx, d, frame, depth)
	}

	exec, ok := r.executors[d.Kind]
	if !ok {
		return ExecutionResult{Text: fmt.Sprintf("unknown action: %s", d.Kind), ErrorCode: ErrCodeUnknownAction}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Executor panicked", zap.String("action", string(d.Kind)), zap.Any("panic", p), zap.Stack("stack"))
			res = ExecutionResult{Text: fmt.Sprintf("executor for %s panicked: %v", d.Kind, p), ErrorCode: ErrCodeExecutorPanic}
		}
	}()
	return exec(ctx, d, frame)
}

// sequence runs the sub-decisions in order with a short gap between them and
// joins their result texts. A stop request between steps ends the sequence.
func (r *ExecutorRegistry) sequence(ctx context.Context, d schemas.ActionDecision, frame Frame, depth int) ExecutionResult {
	if depth > schemas.MaxSequenceDepth {
		return ExecutionResult{Text: "sequence nested too deeply", ErrorCode: ErrCodeSequenceTooDeep}
	}
	if len(d.Steps) == 0 {
		return ExecutionResult{Text: "empty sequence", ErrorCode: ErrCodeInvalidParameters}
	}

	texts := make([]string, 0, len(d.Steps))
	var code ErrorCode
	for i, step := range d.Steps {
		if i > 0 {
			if err := r.signals.WaitWhilePaused(ctx); err != nil {
				texts = append(texts, "sequence interrupted")
				code = ErrCodeStopped
				break
			}
		}
		res := r.execute(ctx, step, frame, depth+1)
		texts = append(texts, res.Text)
		if res.Failed() && code == "" {
			code = res.ErrorCode
		}
		if i < len(d.Steps)-1 && r.sequenceGap > 0 {
			if err := r.sleep(ctx, r.sequenceGap); err != nil {
				code = ErrCodeStopped
				break
			}
		}
	}
	return ExecutionResult{Text: strings.Join(texts, sequenceSeparator), ErrorCode: code}
}

// -- Built-in executors --

func (r *ExecutorRegistry) clickOnElement(ctx context.Context, d schemas.ActionDecision, frame Frame) ExecutionResult {
	id, ok := d.Int("id")
	if !ok || id < 0 || id >= len(frame.Elements) {
		raw := d.String("id")
		if raw == "" {
			raw = "<missing>"
		}
		return ExecutionResult{Text: fmt.Sprintf("invalid element id: %s", raw), ErrorCode: ErrCodeElementNotFound}
	}

	el := frame.Elements[id]
	target := frame.Geometry.ToOriginal(el.Center)
	x, y := int(target.X), int(target.Y)
	if err := r.input.Click(ctx, x, y); err != nil {
		return failure("click", err)
	}
	return ExecutionResult{Text: fmt.Sprintf("Clicked '%s' at (%d,%d) [processed (%d,%d)]",
		elementLabel(el), x, y, int(el.Center.X), int(el.Center.Y))}
}

func (r *ExecutorRegistry) typeText(ctx context.Context, d schemas.ActionDecision, _ Frame) ExecutionResult {
	text := d.String("text")
	if err := r.input.TypeText(ctx, text); err != nil {
		return failure("type_text", err)
	}
	return ExecutionResult{Text: fmt.Sprintf("Typed text: '%s'", text)}
}

func (r *ExecutorRegistry) pressKey(ctx context.Context, d schemas.ActionDecision, _ Frame) ExecutionResult {
	key := d.String("key")
	if key == "" {
		return ExecutionResult{Text: "press_key without a key", ErrorCode: ErrCodeInvalidParameters}
	}
	if err := r.input.PressKey(ctx, key); err != nil {
		return failure("press_key", err)
	}
	return ExecutionResult{Text: fmt.Sprintf("Pressed key: %s", key)}
}

func (r *ExecutorRegistry) hotkey(ctx context.Context, d schemas.ActionDecision, _ Frame) ExecutionResult {
	keys := d.Keys("keys")
	if len(keys) == 0 {
		return ExecutionResult{Text: "hotkey without keys", ErrorCode: ErrCodeInvalidParameters}
	}
	if err := r.input.Hotkey(ctx, keys); err != nil {
		return failure("hotkey", err)
	}
	return ExecutionResult{Text: fmt.Sprintf("Hotkey: %s", strings.Join(keys, "+"))}
}

func (r *ExecutorRegistry) openURL(ctx context.Context, d schemas.ActionDecision, _ Frame) ExecutionResult {
	url := d.String("url")
	if url == "" {
		return ExecutionResult{Text: "open_url without a url", ErrorCode: ErrCodeInvalidParameters}
	}
	if err := r.input.OpenURL(ctx, url); err != nil {
		return failure("open_url", err)
	}
	return ExecutionResult{Text: fmt.Sprintf("Opened URL: %s", url)}
}

func (r *ExecutorRegistry) scroll(ctx context.Context, d schemas.ActionDecision, _ Frame) ExecutionResult {
	clicks := defaultScrollClicks
	if n, ok := d.Int("clicks"); ok {
		clicks = n
	}
	if err := r.input.Scroll(ctx, clicks); err != nil {
		return failure("scroll", err)
	}
	return ExecutionResult{Text: fmt.Sprintf("Scrolled: %d", clicks)}
}

func (r *ExecutorRegistry) wait(ctx context.Context, d schemas.ActionDecision, _ Frame) ExecutionResult {
	seconds := d.Float("seconds", defaultWaitSeconds)
	if seconds < 0 {
		seconds = 0
	}
	wait := min(time.Duration(seconds*float64(time.Second)), r.maxWait)
	if err := r.sleep(ctx, wait); err != nil {
		return ExecutionResult{Text: "wait interrupted", ErrorCode: ErrCodeStopped}
	}
	return ExecutionResult{Text: fmt.Sprintf("Waited %g seconds", wait.Seconds())}
}

// failure maps an input error onto a result.
func failure(what string, err error) ExecutionResult {
	code := ErrCodeExecutionFailure
	switch {
	case router.IsNavigationError(err):
		code = ErrCodeNavigationError
	case router.IsTimeout(err):
		code = ErrCodeTimeoutError
	case errors.Is(err, context.Canceled):
		code = ErrCodeStopped
	}
	return ExecutionResult{Text: fmt.Sprintf("%s failed: %v", what, err), ErrorCode: code}
}

// elementLabel picks the most descriptive text an element carries.
func elementLabel(el schemas.EnrichedElement) string {
	for _, s := range []string{el.EnrichedDescription, el.VisualDescription, el.Description, el.Label} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "element"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
