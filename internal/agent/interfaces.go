// File: internal/agent/interfaces.go
package agent

import (
	"context"
	"image"

	"github.com/xkilldash9x/scalpel-pilot/internal/router"
)

// InputDriver performs low-level input in screen coordinates of the captured
// frame.
type InputDriver interface {
	Click(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	Hotkey(ctx context.Context, keys []string) error
	// Scroll moves the wheel by clicks notches; negative scrolls down.
	Scroll(ctx context.Context, clicks int) error
	OpenURL(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
}

// ScreenCapturer grabs the current screen or viewport.
type ScreenCapturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// FastPath attempts a suggestion directly against the DOM. *router.Router
// satisfies it.
type FastPath interface {
	TryExecute(ctx context.Context, suggestion, task string) router.Result
}

// PageTextSource supplies visible page text for intervention checks.
type PageTextSource interface {
	PageText(ctx context.Context) (string, error)
}

// PopupCloser clears cookie banners and popups before a frame is captured.
// *router.PopupCloser satisfies it.
type PopupCloser interface {
	Dismiss(ctx context.Context) (bool, error)
}

var (
	_ FastPath    = (*router.Router)(nil)
	_ PopupCloser = (*router.PopupCloser)(nil)
)
