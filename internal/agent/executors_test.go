// internal/agent/executors_test.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/control"
	"github.com/xkilldash9x/scalpel-pilot/internal/mocks"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception/preprocess"
)

func setupRegistry(t *testing.T, signals *control.Signals) (*ExecutorRegistry, *mocks.MockInputDriver, *[]time.Duration) {
	t.Helper()
	input := new(mocks.MockInputDriver)
	cfg := config.NewDefaultConfig().Agent()
	cfg.MaxWait = 5 * time.Second
	r := NewExecutorRegistry(input, cfg, signals, zap.NewNop())
	slept := new([]time.Duration)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return r, input, slept
}

// halfScaleFrame has two elements in a frame downscaled by two with a 10px
// horizontal crop offset.
func halfScaleFrame() Frame {
	el := func(id int, x, y float64, label string) schemas.EnrichedElement {
		e := schemas.EnrichedElement{}
		e.ID = id
		e.Center = schemas.Point{X: x, Y: y}
		e.Label = label
		return e
	}
	first := el(0, 50, 20, "Menu")
	first.EnrichedDescription = "hamburger menu button"
	return Frame{
		Elements: []schemas.EnrichedElement{first, el(1, 100.6, 40.2, "Search")},
		Geometry: preprocess.Result{
			Image:  image.NewRGBA(image.Rect(0, 0, 640, 360)),
			ScaleX: 2,
			ScaleY: 2,
			Offset: schemas.Point{X: 10, Y: 0},
		},
	}
}

func decision(kind schemas.ActionKind, params map[string]any) schemas.ActionDecision {
	return schemas.ActionDecision{Kind: kind, Params: params}
}

func TestClickOnElement(t *testing.T) {
	r, input, _ := setupRegistry(t, nil)
	input.On("Click", mock.Anything, 110, 40).Return(nil).Once()
	input.On("Click", mock.Anything, 211, 80).Return(nil).Once()

	res := r.Execute(context.Background(), decision(schemas.ActionClickOnElement, map[string]any{"id": 0}), halfScaleFrame())
	assert.Equal(t, "Clicked 'hamburger menu button' at (110,40) [processed (50,20)]", res.Text)
	assert.False(t, res.Failed())

	res = r.Execute(context.Background(), decision(schemas.ActionClickOnElement, map[string]any{"id": "1"}), halfScaleFrame())
	assert.Equal(t, "Clicked 'Search' at (211,80) [processed (100,40)]", res.Text)
	input.AssertExpectations(t)
}

func TestClickOnElement_InvalidID(t *testing.T) {
	r, input, _ := setupRegistry(t, nil)

	tests := map[string]struct {
		params map[string]any
		want   string
	}{
		"out of range": {params: map[string]any{"id": 9}, want: "invalid element id: 9"},
		"negative":     {params: map[string]any{"id": -1}, want: "invalid element id: -1"},
		"not a number": {params: map[string]any{"id": "menu"}, want: "invalid element id: menu"},
		"missing":      {params: map[string]any{}, want: "invalid element id: <missing>"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			res := r.Execute(context.Background(), decision(schemas.ActionClickOnElement, tt.params), halfScaleFrame())
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, ErrCodeElementNotFound, res.ErrorCode)
		})
	}
	input.AssertNotCalled(t, "Click", mock.Anything, mock.Anything, mock.Anything)
}

func TestSimpleExecutors(t *testing.T) {
	r, input, slept := setupRegistry(t, nil)
	input.On("TypeText", mock.Anything, "hello").Return(nil)
	input.On("PressKey", mock.Anything, "enter").Return(nil)
	input.On("Hotkey", mock.Anything, []string{"ctrl", "l"}).Return(nil)
	input.On("OpenURL", mock.Anything, "https://example.com").Return(nil)
	input.On("Scroll", mock.Anything, -3).Return(nil)
	input.On("Scroll", mock.Anything, 5).Return(nil)

	tests := []struct {
		name string
		d    schemas.ActionDecision
		want string
	}{
		{"type", decision(schemas.ActionTypeText, map[string]any{"text": "hello"}), "Typed text: 'hello'"},
		{"key", decision(schemas.ActionPressKey, map[string]any{"key": "enter"}), "Pressed key: enter"},
		{"hotkey", decision(schemas.ActionHotkey, map[string]any{"keys": []any{"ctrl", "l"}}), "Hotkey: ctrl+l"},
		{"url", decision(schemas.ActionOpenURL, map[string]any{"url": "https://example.com"}), "Opened URL: https://example.com"},
		{"scroll default", decision(schemas.ActionScroll, nil), "Scrolled: -3"},
		{"scroll", decision(schemas.ActionScroll, map[string]any{"clicks": 5}), "Scrolled: 5"},
		{"wait", decision(schemas.ActionWait, map[string]any{"seconds": 1.5}), "Waited 1.5 seconds"},
		{"wait capped", decision(schemas.ActionWait, map[string]any{"seconds": 60}), "Waited 5 seconds"},
		{"wait default", decision(schemas.ActionWait, nil), "Waited 1 seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), tt.d, Frame{})
			assert.Equal(t, tt.want, res.Text)
			assert.Empty(t, res.ErrorCode)
		})
	}
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 5 * time.Second, time.Second}, *slept)
	input.AssertExpectations(t)
}

func TestExecutors_InvalidParameters(t *testing.T) {
	r, _, _ := setupRegistry(t, nil)
	for _, d := range []schemas.ActionDecision{
		decision(schemas.ActionPressKey, nil),
		decision(schemas.ActionHotkey, map[string]any{"keys": []any{}}),
		decision(schemas.ActionOpenURL, nil),
	} {
		res := r.Execute(context.Background(), d, Frame{})
		assert.Equal(t, ErrCodeInvalidParameters, res.ErrorCode, d.Kind)
	}
}

func TestExecutors_InputFailures(t *testing.T) {
	r, input, _ := setupRegistry(t, nil)
	input.On("OpenURL", mock.Anything, "https://a.example").Return(errors.New("Execution context was destroyed, most likely because of a navigation"))
	input.On("OpenURL", mock.Anything, "https://b.example").Return(fmt.Errorf("load: %w", context.DeadlineExceeded))
	input.On("OpenURL", mock.Anything, "https://c.example").Return(context.Canceled)
	input.On("OpenURL", mock.Anything, "https://d.example").Return(errors.New("boom"))

	tests := map[string]ErrorCode{
		"https://a.example": ErrCodeNavigationError,
		"https://b.example": ErrCodeTimeoutError,
		"https://c.example": ErrCodeStopped,
		"https://d.example": ErrCodeExecutionFailure,
	}
	for url, want := range tests {
		res := r.Execute(context.Background(), decision(schemas.ActionOpenURL, map[string]any{"url": url}), Frame{})
		assert.Equal(t, want, res.ErrorCode, url)
		assert.Contains(t, res.Text, "open_url failed: ")
	}
}

func TestExecute_UnknownAction(t *testing.T) {
	r, _, _ := setupRegistry(t, nil)
	res := r.Execute(context.Background(), decision("teleport", nil), Frame{})
	assert.Equal(t, "unknown action: teleport", res.Text)
	assert.Equal(t, ErrCodeUnknownAction, res.ErrorCode)
}

func TestExecute_RecoversExecutorPanic(t *testing.T) {
	r, _, _ := setupRegistry(t, nil)
	r.Register("explode", func(context.Context, schemas.ActionDecision, Frame) ExecutionResult {
		panic("kaboom")
	})
	res := r.Execute(context.Background(), decision("explode", nil), Frame{})
	assert.Equal(t, ErrCodeExecutorPanic, res.ErrorCode)
	assert.Contains(t, res.Text, "kaboom")
}

func TestSequence(t *testing.T) {
	r, input, slept := setupRegistry(t, nil)
	input.On("Click", mock.Anything, 211, 80).Return(nil).Once()
	input.On("TypeText", mock.Anything, "golang").Return(nil).Once()
	input.On("PressKey", mock.Anything, "enter").Return(nil).Once()

	seq := schemas.ActionDecision{Kind: schemas.ActionSequence, Steps: []schemas.ActionDecision{
		decision(schemas.ActionClickOnElement, map[string]any{"id": 1}),
		decision(schemas.ActionTypeText, map[string]any{"text": "golang"}),
		decision(schemas.ActionPressKey, map[string]any{"key": "enter"}),
	}}
	res := r.Execute(context.Background(), seq, halfScaleFrame())

	assert.Equal(t, "Clicked 'Search' at (211,80) [processed (100,40)] → Typed text: 'golang' → Pressed key: enter", res.Text)
	assert.Empty(t, res.ErrorCode)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond}, *slept, "gap only between steps")
	input.AssertExpectations(t)
}

func TestSequence_KeepsFirstErrorCode(t *testing.T) {
	r, input, _ := setupRegistry(t, nil)
	input.On("TypeText", mock.Anything, "x").Return(nil)

	seq := schemas.ActionDecision{Kind: schemas.ActionSequence, Steps: []schemas.ActionDecision{
		decision(schemas.ActionClickOnElement, map[string]any{"id": 7}),
		decision(schemas.ActionTypeText, map[string]any{"text": "x"}),
		decision("teleport", nil),
	}}
	res := r.Execute(context.Background(), seq, halfScaleFrame())

	assert.Equal(t, ErrCodeElementNotFound, res.ErrorCode)
	assert.Equal(t, "invalid element id: 7 → Typed text: 'x' → unknown action: teleport", res.Text)
}

func TestSequence_Limits(t *testing.T) {
	r, _, _ := setupRegistry(t, nil)

	res := r.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionSequence}, Frame{})
	assert.Equal(t, ErrCodeInvalidParameters, res.ErrorCode)

	nested := decision(schemas.ActionWait, map[string]any{"seconds": 0})
	for i := 0; i < schemas.MaxSequenceDepth+1; i++ {
		nested = schemas.ActionDecision{Kind: schemas.ActionSequence, Steps: []schemas.ActionDecision{nested}}
	}
	res = r.Execute(context.Background(), nested, Frame{})
	assert.Equal(t, ErrCodeSequenceTooDeep, res.ErrorCode)
}

func TestSequence_StopBetweenSteps(t *testing.T) {
	signals := control.NewSignals(zap.NewNop())
	r, input, _ := setupRegistry(t, signals)
	input.On("TypeText", mock.Anything, "first").Return(nil).Run(func(mock.Arguments) {
		signals.Stop()
	})

	seq := schemas.ActionDecision{Kind: schemas.ActionSequence, Steps: []schemas.ActionDecision{
		decision(schemas.ActionTypeText, map[string]any{"text": "first"}),
		decision(schemas.ActionTypeText, map[string]any{"text": "second"}),
	}}
	res := r.Execute(context.Background(), seq, Frame{})

	assert.Equal(t, ErrCodeStopped, res.ErrorCode)
	assert.Equal(t, "Typed text: 'first' → sequence interrupted", res.Text)
	input.AssertNotCalled(t, "TypeText", mock.Anything, "second")
}

func TestElementLabel(t *testing.T) {
	var el schemas.EnrichedElement
	assert.Equal(t, "element", elementLabel(el))
	el.Label = "OK"
	assert.Equal(t, "OK", elementLabel(el))
	el.Description = "button: OK"
	assert.Equal(t, "button: OK", elementLabel(el))
	el.VisualDescription = "  "
	assert.Equal(t, "button: OK", elementLabel(el))
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	require.NoError(t, sleepCtx(context.Background(), 0))
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}
