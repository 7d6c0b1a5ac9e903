package router

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/matcher"
)

// maxDismissLabel keeps long link text and article content out of reach.
const maxDismissLabel = 40

// DismissKeywords are the button texts that close cookie banners and modal
// dialogs. Matching is on whole words, except for symbols.
var DismissKeywords = []string{
	"accept", "accept all", "allow all", "agree", "i agree", "got it",
	"ok", "close", "continue", "dismiss",
	"accepter", "tout accepter", "j'accepte", "autoriser", "continuer",
	"fermer", "compris", "d'accord",
	"×", "✕",
}

// KeyPresser sends a named key to the page.
type KeyPresser interface {
	PressKey(ctx context.Context, key string) error
}

// PopupCloser clears cookie banners and popups before a frame is captured.
type PopupCloser struct {
	page   Page
	keys   KeyPresser
	logger *zap.Logger
}

// NewPopupCloser creates a PopupCloser. keys may be nil, which disables the
// Escape fallback.
func NewPopupCloser(page Page, keys KeyPresser, logger *zap.Logger) *PopupCloser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PopupCloser{page: page, keys: keys, logger: logger.Named("popups")}
}

// Dismiss clicks the first short clickable element whose label is a dismiss
// keyword and reports whether it did. One popup is handled per call. When
// nothing matches, or every matching click fails, Escape is pressed instead.
func (p *PopupCloser) Dismiss(ctx context.Context) (bool, error) {
	elements, err := p.page.ScanElements(ctx)
	if err != nil {
		return false, err
	}
	for _, el := range matcher.Filter(elements, schemas.DOMClickable) {
		text := strings.ToLower(strings.TrimSpace(el.Label()))
		if !IsDismissLabel(text) {
			continue
		}
		if err := p.page.ClickElement(ctx, el.Index); err != nil {
			p.logger.Debug("Dismiss click failed", zap.String("label", text), zap.Error(err))
			continue
		}
		p.logger.Info("Popup dismissed", zap.String("label", text), zap.Int("index", el.Index))
		return true, nil
	}

	if p.keys != nil {
		if err := p.keys.PressKey(ctx, "escape"); err != nil {
			p.logger.Debug("Escape fallback failed", zap.Error(err))
		}
	}
	return false, ctx.Err()
}

// IsDismissLabel reports whether a lower-cased element label reads like a
// popup's close or consent button.
func IsDismissLabel(label string) bool {
	if label == "" || utf8.RuneCountInString(label) >= maxDismissLabel {
		return false
	}
	padded := " " + strings.Join(strings.Fields(label), " ") + " "
	for _, kw := range DismissKeywords {
		if utf8.RuneCountInString(kw) == 1 {
			if strings.Contains(label, kw) {
				return true
			}
			continue
		}
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}
