package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/mocks"
)

func pageElements() []schemas.DOMElement {
	return []schemas.DOMElement{
		{Index: 0, Type: schemas.DOMClickable, Tag: "a", Text: "Sign In"},
		{Index: 1, Type: schemas.DOMClickable, Tag: "button", Text: "Login"},
		{Index: 2, Type: schemas.DOMInput, Tag: "input", Name: "q", Placeholder: "Search"},
	}
}

type routerFixture struct {
	router *Router
	page   *mocks.MockPage
	llm    *mocks.MockLLMClient
	slept  []time.Duration
	logs   *observer.ObservedLogs
}

func setupRouter(t *testing.T, elements []schemas.DOMElement, answer string) *routerFixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &routerFixture{page: new(mocks.MockPage), llm: new(mocks.MockLLMClient), logs: logs}
	f.router = New(f.page, f.llm, config.AgentConfig{MaxWait: 5 * time.Second}, zap.New(core))
	f.router.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return ctx.Err()
	}
	f.page.On("ScanElements", mock.Anything).Return(elements, nil)
	if answer != "" {
		f.llm.On("Generate", mock.Anything, mock.Anything).Return(answer, nil)
	}
	return f
}

func TestTryExecute_ClickByIndex(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "click", "element_index": 1, "target": "Login"}`)
	f.page.On("ClickElement", mock.Anything, 1).Return(nil).Once()

	res := f.router.TryExecute(context.Background(), "Click the Login button", "log in")

	assert.True(t, res.Success)
	assert.Equal(t, ActionClick, res.Action)
	assert.Equal(t, 1, res.ElementIndex)
	assert.Contains(t, res.Reason, "Login")
	f.page.AssertExpectations(t)

	req := f.llm.Calls[0].Arguments.Get(1).(schemas.GenerationRequest)
	assert.Equal(t, schemas.TierFast, req.Tier)
	assert.True(t, req.Options.ForceJSONFormat)
	assert.Contains(t, req.UserPrompt, "SUGGESTION: Click the Login button")
	assert.Contains(t, req.UserPrompt, "1. [clickable] text='Login'")

	entries := f.logs.FilterMessage("Fast path attempt").All()
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].ContextMap()["success"])
}

// An out of range index falls back to the matcher on the target text.
func TestTryExecute_ClickFallsBackToMatcher(t *testing.T) {
	f := setupRouter(t, pageElements(), "```json\n{\"action\": \"click\", \"element_index\": 42, \"target\": \"sign in\"}\n```")
	f.page.On("ClickElement", mock.Anything, 0).Return(nil).Once()

	res := f.router.TryExecute(context.Background(), "press sign in", "")

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ElementIndex)
	assert.Equal(t, 1, f.logs.FilterMessage("Resolved target through matcher").Len())
}

func TestTryExecute_ClickWithoutMatch(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "click", "target": "checkout"}`)

	res := f.router.TryExecute(context.Background(), "go to checkout", "")

	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ElementIndex)
	assert.Equal(t, `no clickable element matches "checkout"`, res.Reason)
	f.page.AssertNotCalled(t, "ClickElement", mock.Anything, mock.Anything)
}

// A form without the requested button leaves the step to the vision path.
func TestTryExecute_SubmitMissingFromForm(t *testing.T) {
	form := []schemas.DOMElement{
		{Index: 0, Type: schemas.DOMClickable, Tag: "button", Text: "Cancel"},
		{Index: 1, Type: schemas.DOMClickable, Tag: "button", Text: "Reset"},
	}
	f := setupRouter(t, form, `{"action": "click", "target": "Submit"}`)

	res := f.router.TryExecute(context.Background(), "submit the form", "")

	assert.False(t, res.Success)
	assert.Equal(t, `no clickable element matches "Submit"`, res.Reason)
	f.page.AssertNotCalled(t, "ClickElement", mock.Anything, mock.Anything)
}

func TestTryExecute_ClickWithoutIndexOrTarget(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "click"}`)

	res := f.router.TryExecute(context.Background(), "click something", "")

	assert.False(t, res.Success)
	assert.Equal(t, "no element index or target given", res.Reason)
}

func TestTryExecute_TypeAndPressEnter(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "type", "element_index": "2", "text": "weather", "press_enter": true}`)
	f.page.On("FillElement", mock.Anything, 2, "weather").Return(nil).Once()
	f.page.On("PressEnter", mock.Anything).Return(nil).Once()

	res := f.router.TryExecute(context.Background(), "Search for weather", "")

	assert.True(t, res.Success)
	assert.Equal(t, ActionType, res.Action)
	assert.Equal(t, 2, res.ElementIndex)
	assert.Equal(t, []time.Duration{enterDelay}, f.slept)
	assert.True(t, strings.HasSuffix(res.Reason, "and pressed Enter"))
	f.page.AssertExpectations(t)
}

func TestTryExecute_TypePrefersInputs(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "type", "target": "search", "text": "go"}`)
	f.page.On("FillElement", mock.Anything, 2, "go").Return(nil).Once()

	res := f.router.TryExecute(context.Background(), "type go in search", "")

	assert.True(t, res.Success)
	assert.Empty(t, f.slept)
	f.page.AssertNotCalled(t, "PressEnter", mock.Anything)
}

func TestTryExecute_Enter(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "ENTER"}`)
	f.page.On("PressEnter", mock.Anything).Return(nil).Once()

	res := f.router.TryExecute(context.Background(), "submit", "")

	assert.True(t, res.Success)
	assert.Equal(t, ActionEnter, res.Action)
	assert.Equal(t, "pressed Enter", res.Reason)
}

func TestTryExecute_Wait(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   time.Duration
	}{
		{"default", `{"action": "wait"}`, defaultWait},
		{"explicit", `{"action": "wait", "duration": 1.5}`, 1500 * time.Millisecond},
		{"capped", `{"action": "wait", "duration": "60"}`, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupRouter(t, pageElements(), tt.answer)

			res := f.router.TryExecute(context.Background(), "wait for the page", "")

			assert.True(t, res.Success)
			assert.Equal(t, []time.Duration{tt.want}, f.slept)
		})
	}
}

func TestTryExecute_ReadCarriesPayload(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "read"}`)
	f.page.On("PageMarkdown", mock.Anything).Return("# Weather\nSunny", nil).Once()

	res := f.router.TryExecute(context.Background(), "read the page", "")

	require.True(t, res.Success)
	assert.Equal(t, "# Weather\nSunny", res.Payload[ExtractedContentKey])
}

// A click that navigates away destroys the execution context; that is success.
func TestTryExecute_NavigationCountsAsSuccess(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "click", "element_index": 0}`)
	f.page.On("ClickElement", mock.Anything, 0).
		Return(errors.New("Execution context was destroyed, most likely because of a navigation")).Once()

	res := f.router.TryExecute(context.Background(), "click sign in", "")

	assert.True(t, res.Success)
	assert.Equal(t, "click triggered a page navigation", res.Reason)
}

func TestTryExecute_TimeoutIsRetriable(t *testing.T) {
	f := setupRouter(t, pageElements(), `{"action": "click", "element_index": 0}`)
	f.page.On("ClickElement", mock.Anything, 0).Return(fmt.Errorf("click: %w", context.DeadlineExceeded)).Once()

	res := f.router.TryExecute(context.Background(), "click sign in", "")

	assert.False(t, res.Success)
	assert.True(t, res.Retriable)
	assert.Contains(t, res.Reason, "click failed")
}

func TestTryExecute_Failures(t *testing.T) {
	t.Run("empty page", func(t *testing.T) {
		f := setupRouter(t, []schemas.DOMElement{}, "")
		res := f.router.TryExecute(context.Background(), "click", "")
		assert.False(t, res.Success)
		assert.Equal(t, "no interactable elements on the page", res.Reason)
		f.llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("scan error", func(t *testing.T) {
		page := new(mocks.MockPage)
		page.On("ScanElements", mock.Anything).Return(nil, errors.New("scan timeout"))
		r := New(page, new(mocks.MockLLMClient), config.AgentConfig{}, nil)
		res := r.TryExecute(context.Background(), "click", "")
		assert.False(t, res.Success)
		assert.True(t, res.Retriable)
		assert.Contains(t, res.Reason, "page scan failed")
	})

	t.Run("oracle error", func(t *testing.T) {
		f := setupRouter(t, pageElements(), "")
		f.llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))
		res := f.router.TryExecute(context.Background(), "click", "")
		assert.False(t, res.Success)
		assert.False(t, res.Retriable)
		assert.Contains(t, res.Reason, "decision oracle failed")
	})

	t.Run("unparseable answer", func(t *testing.T) {
		f := setupRouter(t, pageElements(), "null")
		res := f.router.TryExecute(context.Background(), "click", "")
		assert.False(t, res.Success)
		assert.Equal(t, "could not parse a DOM action from the suggestion", res.Reason)
	})

	t.Run("unsupported action", func(t *testing.T) {
		f := setupRouter(t, pageElements(), `{"action": "drag"}`)
		res := f.router.TryExecute(context.Background(), "drag it", "")
		assert.False(t, res.Success)
		assert.Equal(t, `unsupported fast path action "drag"`, res.Reason)
	})
}

func TestFormatElements(t *testing.T) {
	assert.Equal(t, "No elements found on the page.", FormatElements(nil, 50))

	elements := make([]schemas.DOMElement, 55)
	for i := range elements {
		elements[i] = schemas.DOMElement{Index: i, Type: schemas.DOMClickable, Text: fmt.Sprintf("item %d", i)}
	}
	out := FormatElements(elements, 50)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 51)
	assert.Equal(t, "0. [clickable] text='item 0'", lines[0])
	assert.Equal(t, "... and 5 more elements", lines[50])

	long := []schemas.DOMElement{{Type: schemas.DOMInput, Placeholder: strings.Repeat("é", 80), ID: strings.Repeat("x", 40)}}
	out = FormatElements(long, 50)
	assert.Equal(t, "0. [input] placeholder='"+strings.Repeat("é", 50)+"' id='"+strings.Repeat("x", 30)+"'", out)
}

func TestErrorClassifiers(t *testing.T) {
	assert.False(t, IsNavigationError(nil))
	assert.True(t, IsNavigationError(errors.New("cannot find context with specified id: execution context")))
	assert.False(t, IsNavigationError(errors.New("node not found")))

	assert.False(t, IsTimeout(nil))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(errors.New("Navigation Timeout exceeded")))
	assert.False(t, IsTimeout(errors.New("boom")))
}
