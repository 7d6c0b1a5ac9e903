// internal/agent/agent_test.go
package agent

import (
	"context"
	"errors"
	"image"
	"image/color"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/control"
	"github.com/xkilldash9x/scalpel-pilot/internal/mocks"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception"
	"github.com/xkilldash9x/scalpel-pilot/internal/router"
)

const (
	planContinue = `{"description": "A news site home page", "suggestion": "open the menu", "task_complete": false}`
	planDone     = `{"description": "The article is open", "suggestion": "nothing", "task_complete": true}`
	clickFirst   = `{"action": "click_on_element", "params": {"id": 0}, "reasoning": "open the menu"}`
)

// -- Test Harness --

type harness struct {
	agent    *Agent
	llm      *mocks.MockLLMClient
	input    *mocks.MockInputDriver
	capturer *mocks.MockScreenCapturer
	ui       *mocks.MockUIDetector
	signals  *control.Signals
	metrics  *observability.Metrics
	logs     *observer.ObservedLogs
	mu       sync.Mutex
	slept    []time.Duration
}

type harnessOption func(*viper.Viper, *Dependencies)

func withFastPath(fp FastPath) harnessOption {
	return func(v *viper.Viper, d *Dependencies) {
		v.Set("agent.fast_path_enabled", true)
		d.FastPath = fp
	}
}

func withPopups(p PopupCloser) harnessOption {
	return func(_ *viper.Viper, d *Dependencies) { d.Popups = p }
}

// stubPopups records how many frames were captured when Dismiss ran.
type stubPopups struct {
	capturer   *mocks.MockScreenCapturer
	closed     bool
	err        error
	seenFrames []int
}

func (s *stubPopups) Dismiss(context.Context) (bool, error) {
	s.seenFrames = append(s.seenFrames, len(s.capturer.Calls))
	return s.closed, s.err
}

func withSetting(key string, value any) harnessOption {
	return func(v *viper.Viper, _ *Dependencies) { v.Set(key, value) }
}

func isPlanner(req schemas.GenerationRequest) bool {
	return req.SystemPrompt == plannerSystemPrompt
}

func isGrounding(tier schemas.ModelTier) any {
	return mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.SystemPrompt == groundingSystemPrompt && req.Tier == tier
	})
}

func solidFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 240, 240, 240, 255
	}
	img.Set(0, 0, color.Black)
	return img
}

func setupAgent(t *testing.T, maxSteps int, opts ...harnessOption) *harness {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	v.Set("agent.max_steps", maxSteps)
	v.Set("agent.fast_path_enabled", false)

	h := &harness{
		llm:      new(mocks.MockLLMClient),
		input:    new(mocks.MockInputDriver),
		capturer: new(mocks.MockScreenCapturer),
		ui:       new(mocks.MockUIDetector),
		metrics:  observability.NewMetrics(),
	}
	core, logs := observer.New(zap.DebugLevel)
	h.logs = logs
	h.signals = control.NewSignals(zap.NewNop())

	deps := Dependencies{
		LLM:      h.llm,
		Capturer: h.capturer,
		Input:    h.input,
		Signals:  h.signals,
		Metrics:  h.metrics,
	}
	for _, opt := range opts {
		opt(v, &deps)
	}
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	deps.Perceiver = perception.New(cfg, nil, h.ui, zap.NewNop())

	a, err := New(cfg, deps, zap.New(core))
	require.NoError(t, err)
	sleep := func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.slept = append(h.slept, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	a.sleep = sleep
	a.registry.sleep = sleep
	h.agent = a

	h.input.On("CurrentURL", mock.Anything).Return("https://news.example.com", nil).Maybe()
	h.capturer.On("Capture", mock.Anything).Return(solidFrame(), nil).Maybe()
	h.ui.On("DetectUI", mock.Anything, mock.Anything).Return([]schemas.RawDetection{
		{BBox: schemas.BoundingBox{X: 100, Y: 50, W: 80, H: 30}, Confidence: 0.9, Source: schemas.SourceUIDetector},
	}, nil).Maybe()
	return h
}

// counterValue reads one labelled counter from the metrics registry.
func counterValue(t *testing.T, m *observability.Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// stubFastPath replays results in order and then reports failure.
type stubFastPath struct {
	mu          sync.Mutex
	results     []router.Result
	suggestions []string
}

func (s *stubFastPath) TryExecute(_ context.Context, suggestion, _ string) router.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions = append(s.suggestions, suggestion)
	if len(s.results) == 0 {
		return router.Result{Reason: "no match"}
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

// -- Construction --

func TestNew_RequiresCollaborators(t *testing.T) {
	cfg := config.NewDefaultConfig()
	perceiver := perception.New(cfg, nil, nil, nil)
	full := Dependencies{
		LLM:       new(mocks.MockLLMClient),
		Capturer:  new(mocks.MockScreenCapturer),
		Input:     new(mocks.MockInputDriver),
		Perceiver: perceiver,
	}

	tests := []struct {
		name   string
		mutate func(*Dependencies)
		errMsg string
	}{
		{"no llm", func(d *Dependencies) { d.LLM = nil }, "LLM client"},
		{"no capturer", func(d *Dependencies) { d.Capturer = nil }, "screen capturer"},
		{"no input", func(d *Dependencies) { d.Input = nil }, "input driver"},
		{"no perceiver", func(d *Dependencies) { d.Perceiver = nil }, "perceiver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			_, err := New(cfg, deps, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	a, err := New(cfg, full, nil)
	require.NoError(t, err)
	assert.NotNil(t, a.annotator)
	assert.NotNil(t, a.monitor, "monitor is enabled by default")
	assert.NotNil(t, a.intervention, "intervention detection is enabled by default")
	assert.NotNil(t, a.Registry())
}

// -- Run --

func TestRun_CompletesWhenPlannerSaysDone(t *testing.T) {
	h := setupAgent(t, 5)
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return isPlanner(req) &&
			req.Tier == schemas.TierPowerful &&
			req.Options.ForceJSONFormat &&
			len(req.Images) == 1 &&
			strings.Contains(req.UserPrompt, "GLOBAL TASK: read the headline") &&
			strings.Contains(req.UserPrompt, "CURRENT URL: https://news.example.com") &&
			strings.Contains(req.UserPrompt, "STEPS ALREADY DONE:\n- none")
	})).Return(planDone, nil).Once()

	res := h.agent.Run(context.Background(), "read the headline")

	assert.Equal(t, schemas.StatusSuccess, res.Status)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.Steps)
	assert.Empty(t, res.History)
	h.input.AssertNotCalled(t, "Click", mock.Anything, mock.Anything, mock.Anything)
	h.llm.AssertExpectations(t)
}

func TestRun_ExhaustsStepBudget(t *testing.T) {
	h := setupAgent(t, 3)
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planContinue, nil)
	h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return(clickFirst, nil)
	h.input.On("Click", mock.Anything, 140, 65).Return(nil)

	res := h.agent.Run(context.Background(), "open the menu")

	assert.Equal(t, schemas.StatusPartial, res.Status)
	assert.False(t, res.Completed)
	assert.False(t, res.Stopped)
	assert.Equal(t, 3, res.Steps)
	assert.Contains(t, res.Reason, "step budget of 3 exhausted")
	require.Len(t, res.History, 3)
	for i, entry := range res.History {
		assert.Equal(t, i+1, entry.Step)
		assert.Equal(t, ChannelVision, entry.Channel)
		assert.Equal(t, 1, entry.ElementCount)
		assert.True(t, strings.HasPrefix(entry.Result, "Clicked '"), entry.Result)
		assert.Empty(t, entry.ErrorCode)
		require.NotNil(t, entry.Action)
		assert.Equal(t, schemas.ActionClickOnElement, entry.Action.Kind)
	}
	h.input.AssertNumberOfCalls(t, "Click", 3)
	assert.Equal(t, 3.0, counterValue(t, h.metrics, "pilot_agent_steps_total", "vision"))
}

func TestRun_PreviousActionFeedsPlanner(t *testing.T) {
	h := setupAgent(t, 2)
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return isPlanner(req) && strings.Contains(req.UserPrompt, "PREVIOUS ACTION: no previous action")
	})).Return(planContinue, nil).Once()
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return isPlanner(req) &&
			strings.Contains(req.UserPrompt, "PREVIOUS ACTION: open the menu - Result: Clicked") &&
			strings.Contains(req.UserPrompt, "- open the menu")
	})).Return(planDone, nil).Once()
	h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return(clickFirst, nil).Once()
	h.input.On("Click", mock.Anything, 140, 65).Return(nil).Once()

	res := h.agent.Run(context.Background(), "open the menu")

	assert.Equal(t, schemas.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Steps)
	h.llm.AssertExpectations(t)
}

func TestRun_PlannerFailureKeepsLoopGoing(t *testing.T) {
	h := setupAgent(t, 1)
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return("", errors.New("quota exceeded"))
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.SystemPrompt == groundingSystemPrompt &&
			strings.Contains(req.UserPrompt, "HIGH LEVEL SUGGESTION: continue")
	})).Return(`{"action": "wait", "params": {"seconds": 1}}`, nil).Once()

	res := h.agent.Run(context.Background(), "anything")

	assert.Equal(t, schemas.StatusPartial, res.Status)
	require.Len(t, res.History, 1)
	assert.Equal(t, "screen visible", res.History[0].Verdict.Description)
	assert.Equal(t, "Waited 1 seconds", res.History[0].Result)
	assert.Equal(t, 1, h.logs.FilterMessage("Planner call failed").Len())
	h.llm.AssertExpectations(t)
}

func TestRun_DismissesPopupsBeforeCapture(t *testing.T) {
	popups := &stubPopups{closed: true}
	h := setupAgent(t, 3, withPopups(popups))
	popups.capturer = h.capturer
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planContinue, nil).Once()
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planDone, nil).Once()
	h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return(clickFirst, nil).Once()
	h.input.On("Click", mock.Anything, 140, 65).Return(nil).Once()

	res := h.agent.Run(context.Background(), "open the menu")

	assert.Equal(t, schemas.StatusSuccess, res.Status)
	assert.Equal(t, []int{0, 1}, popups.seenFrames, "each iteration clears popups before its capture")
	assert.Contains(t, h.slept, popupSettleDelay)
}

func TestRun_PopupHandling(t *testing.T) {
	tests := []struct {
		name       string
		popups     *stubPopups
		settings   []harnessOption
		wantCalls  int
		wantSettle bool
	}{
		{"disabled by config", &stubPopups{closed: true}, []harnessOption{withSetting("agent.auto_close_popups", false)}, 0, false},
		{"nothing to close", &stubPopups{}, nil, 1, false},
		{"scan failure is not fatal", &stubPopups{err: errors.New("target closed")}, nil, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupAgent(t, 1, append(tt.settings, withPopups(tt.popups))...)
			tt.popups.capturer = h.capturer
			h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planDone, nil).Once()

			res := h.agent.Run(context.Background(), "read the headline")

			assert.Equal(t, schemas.StatusSuccess, res.Status)
			assert.Len(t, tt.popups.seenFrames, tt.wantCalls)
			assert.Equal(t, tt.wantSettle, slices.Contains(h.slept, popupSettleDelay))
		})
	}
}

func TestRun_CaptureFailureConsumesIteration(t *testing.T) {
	h := setupAgent(t, 2)
	h.capturer.ExpectedCalls = nil
	h.capturer.On("Capture", mock.Anything).Return(nil, errors.New("display gone"))

	res := h.agent.Run(context.Background(), "anything")

	assert.Equal(t, schemas.StatusPartial, res.Status)
	assert.Equal(t, 2, res.Steps)
	assert.Empty(t, res.History)
	assert.Equal(t, 2, h.logs.FilterMessage("Iteration failed, continuing").Len())
	h.llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRun_FastPathSuccessRechecksCompletion(t *testing.T) {
	fp := &stubFastPath{results: []router.Result{{
		Success: true,
		Action:  router.ActionRead,
		Reason:  "read page content",
		Payload: map[string]any{"page_content": "# Headline"},
	}}}
	h := setupAgent(t, 5, withFastPath(fp))
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planContinue, nil).Once()
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planDone, nil).Once()

	res := h.agent.Run(context.Background(), "read the headline")

	assert.Equal(t, schemas.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Steps)
	require.Len(t, res.History, 1)
	assert.Equal(t, ChannelFastPath, res.History[0].Channel)
	assert.Nil(t, res.History[0].Action)
	assert.Equal(t, "# Headline", res.Payload["page_content"])
	assert.Equal(t, []string{"open the menu"}, fp.suggestions)
	h.capturer.AssertNumberOfCalls(t, "Capture", 2)
	h.llm.AssertNumberOfCalls(t, "Generate", 2)
	h.ui.AssertNotCalled(t, "DetectUI", mock.Anything, mock.Anything)
}

func TestRun_FastPathRecheckIsReusedAsNextPlan(t *testing.T) {
	fp := &stubFastPath{results: []router.Result{{Success: true, Action: router.ActionClick, Reason: "clicked"}}}
	h := setupAgent(t, 2, withFastPath(fp))
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planContinue, nil).Twice()
	h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return(clickFirst, nil).Once()
	h.input.On("Click", mock.Anything, 140, 65).Return(nil).Once()

	res := h.agent.Run(context.Background(), "open the menu")

	assert.Equal(t, 2, res.Steps)
	require.Len(t, res.History, 2)
	assert.Equal(t, ChannelFastPath, res.History[0].Channel)
	assert.Equal(t, ChannelVision, res.History[1].Channel)
	// Second iteration plans from the cached recheck, not a new call.
	h.llm.AssertNumberOfCalls(t, "Generate", 3)
	assert.Equal(t, 1.0, counterValue(t, h.metrics, "pilot_fallbacks_total", "fast_path_to_vision"))
}

func TestRun_FastPathFailureFallsBackToVision(t *testing.T) {
	h := setupAgent(t, 1, withFastPath(&stubFastPath{}))
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planContinue, nil)
	h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return(clickFirst, nil)
	h.input.On("Click", mock.Anything, 140, 65).Return(nil)

	res := h.agent.Run(context.Background(), "open the menu")

	require.Len(t, res.History, 1)
	assert.Equal(t, ChannelVision, res.History[0].Channel)
	assert.Equal(t, 1, h.logs.FilterMessage("Fast path failed, falling back to vision").Len())
}

// -- Cooperative Stop --

func TestRun_StopBeforeFirstStep(t *testing.T) {
	h := setupAgent(t, 5)
	h.signals.Stop()

	res := h.agent.Run(context.Background(), "anything")

	assert.Equal(t, schemas.StatusPartial, res.Status)
	assert.True(t, res.Stopped)
	assert.Equal(t, "stopped by user", res.Reason)
	assert.Equal(t, 0, res.Steps)
	h.capturer.AssertNotCalled(t, "Capture", mock.Anything)
}

func TestRun_StopDuringAction(t *testing.T) {
	h := setupAgent(t, 5)
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).Return(planContinue, nil)
	h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return(clickFirst, nil)
	h.input.On("Click", mock.Anything, 140, 65).Return(nil).Run(func(mock.Arguments) {
		h.signals.Stop()
	})

	res := h.agent.Run(context.Background(), "open the menu")

	assert.True(t, res.Stopped)
	assert.Equal(t, 1, res.Steps)
	require.Len(t, res.History, 1, "the running action finishes before the stop takes effect")
}

func TestRun_ContextCancelled(t *testing.T) {
	h := setupAgent(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.agent.Run(ctx, "anything")

	assert.True(t, res.Stopped)
	assert.Equal(t, context.Canceled.Error(), res.Reason)
	assert.Equal(t, 0, res.Steps)
}

func TestRun_InterventionPausesUntilResumed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := setupAgent(t, 1, withSetting("safety.pause_on_intervention", true))
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(isPlanner)).
		Return(`{"description": "A captcha challenge blocks the page", "suggestion": "solve it", "task_complete": false}`, nil)
	h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return(clickFirst, nil)

	done := make(chan Result, 1)
	go func() { done <- h.agent.Run(context.Background(), "open the menu") }()

	require.Eventually(t, func() bool { return h.signals.Snapshot().Paused }, 2*time.Second, 5*time.Millisecond)
	h.signals.Resume()

	select {
	case res := <-done:
		assert.Equal(t, 1, res.Steps)
		assert.Empty(t, res.History)
		assert.False(t, res.Stopped)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not resume")
	}
	h.input.AssertNotCalled(t, "Click", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, h.logs.FilterMessage("User intervention required").Len())
}

// -- Grounding --

func TestGround_TierFallback(t *testing.T) {
	annotated := image.NewRGBA(image.Rect(0, 0, 40, 30))

	t.Run("connection error retries on the planner tier", func(t *testing.T) {
		h := setupAgent(t, 1)
		h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return("", errors.New("connection refused")).Once()
		h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierPowerful)).Return(clickFirst, nil).Once()

		d := h.agent.ground(context.Background(), "task", "open the menu", annotated, nil)

		assert.Equal(t, schemas.ActionClickOnElement, d.Kind)
		assert.Equal(t, 1.0, counterValue(t, h.metrics, "pilot_fallbacks_total", "executor_to_planner"))
	})

	t.Run("both tiers failing waits", func(t *testing.T) {
		h := setupAgent(t, 1)
		h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return("", context.DeadlineExceeded).Once()
		h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierPowerful)).Return("", errors.New("request timeout")).Once()

		d := h.agent.ground(context.Background(), "task", "open the menu", annotated, nil)

		assert.Equal(t, schemas.ActionWait, d.Kind)
		assert.Equal(t, "both executor and planner tiers failed", d.Reasoning)
	})

	t.Run("other errors wait without retry", func(t *testing.T) {
		h := setupAgent(t, 1)
		h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return("", errors.New("quota exceeded")).Once()

		d := h.agent.ground(context.Background(), "task", "open the menu", annotated, nil)

		assert.Equal(t, schemas.ActionWait, d.Kind)
		assert.Equal(t, "Error: quota exceeded", d.Reasoning)
		h.llm.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("planner fallback disabled", func(t *testing.T) {
		h := setupAgent(t, 1, withSetting("agent.planner_fallback", false))
		h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return("", errors.New("connection reset")).Once()

		d := h.agent.ground(context.Background(), "task", "open the menu", annotated, nil)

		assert.Equal(t, schemas.ActionWait, d.Kind)
		h.llm.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("malformed answer waits", func(t *testing.T) {
		h := setupAgent(t, 1)
		h.llm.On("Generate", mock.Anything, isGrounding(schemas.TierFast)).Return("I would click the menu", nil).Once()

		d := h.agent.ground(context.Background(), "task", "open the menu", annotated, nil)

		assert.Equal(t, schemas.ActionWait, d.Kind)
		assert.Equal(t, "No JSON found", d.Reasoning)
	})
}

func TestGround_SearchSuggestionUsesSequencePrompt(t *testing.T) {
	h := setupAgent(t, 1)
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.UserPrompt, `"sequence"`) &&
			strings.Contains(req.UserPrompt, `"text": "golang generics"`) &&
			req.Options.MaxTokens == 512
	})).Return(`{"action": "sequence", "params": {"steps": [
		{"action": "click_on_element", "params": {"id": 0}},
		{"action": "type_text", "params": {"text": "golang generics"}},
		{"action": "press_key", "params": {"key": "enter"}}
	]}}`, nil).Once()

	d := h.agent.ground(context.Background(), "task", `search for "golang generics"`, image.NewRGBA(image.Rect(0, 0, 40, 30)), nil)

	require.Equal(t, schemas.ActionSequence, d.Kind)
	assert.Len(t, d.Steps, 3)
}

func TestChooseZone(t *testing.T) {
	tests := map[string]struct {
		answer string
		err    error
		want   string
	}{
		"toolbar":        {answer: "browser_toolbar", want: "browser_toolbar"},
		"quoted footer":  {answer: ` "footer". `, want: "footer"},
		"unknown answer": {answer: "sidebar", want: "content"},
		"oracle error":   {err: errors.New("boom"), want: "content"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := setupAgent(t, 1)
			h.llm.On("Generate", mock.Anything, mock.Anything).Return(tt.answer, tt.err).Once()
			assert.Equal(t, tt.want, string(h.agent.chooseZone(context.Background(), "task", "open the menu")))
		})
	}
}

// -- Planning --

func TestPlan_NonJSONAnswerBecomesDescription(t *testing.T) {
	h := setupAgent(t, 1)
	long := strings.Repeat("é", 250)
	h.llm.On("Generate", mock.Anything, mock.Anything).Return(long, nil).Once()

	v := h.agent.plan(context.Background(), &runState{task: "t"}, solidFrame(), "")

	assert.Equal(t, strings.Repeat("é", 200), v.Description)
	assert.Equal(t, "continue", v.Suggestion)
	assert.False(t, v.TaskComplete)
}

func TestPlan_RecentStepsWindow(t *testing.T) {
	h := setupAgent(t, 1)
	st := &runState{task: "t", done: []string{"one", "two", "three", "four", "five"}}
	h.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return !strings.Contains(req.UserPrompt, "- two") &&
			strings.Contains(req.UserPrompt, "- three\n- four\n- five")
	})).Return(`{"description": "d", "suggestion": "", "task_complete": false}`, nil).Once()

	v := h.agent.plan(context.Background(), st, solidFrame(), "")

	assert.Equal(t, "continue", v.Suggestion, "an empty suggestion falls back to continue")
	h.llm.AssertExpectations(t)
}

func TestIsTransportError(t *testing.T) {
	assert.True(t, isTransportError(context.DeadlineExceeded))
	assert.True(t, isTransportError(errors.New("dial tcp: Connection refused")))
	assert.True(t, isTransportError(errors.New("gateway timeout")))
	assert.False(t, isTransportError(errors.New("invalid api key")))
}
