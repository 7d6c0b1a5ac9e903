package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

const (
	indexAttr   = "data-pilot-index"
	maxScanned  = 200
	maxTextSize = 100
)

// ErrElementGone is returned when a scanned element is no longer in the page.
var ErrElementGone = errors.New("element from the last scan is no longer in the page")

// scanScript tags every visible interactable element with its scan index and
// returns their descriptions. Tags from a previous scan are cleared first.
var scanScript = fmt.Sprintf(`(() => {
  const sel = 'a[href], button, input:not([type=hidden]), textarea, select, [role=button], [role=link], [role=tab], [role=menuitem], [role=searchbox], [onclick], [contenteditable=true]';
  const typing = ['text', 'search', 'email', 'password', 'url', 'tel', 'number', ''];
  document.querySelectorAll('[%[1]s]').forEach(e => e.removeAttribute('%[1]s'));
  const out = [];
  for (const el of document.querySelectorAll(sel)) {
    const r = el.getBoundingClientRect();
    const st = getComputedStyle(el);
    if (r.width === 0 || r.height === 0 || st.visibility === 'hidden' || st.display === 'none' || el.disabled) continue;
    const tag = el.tagName.toLowerCase();
    const isInput = tag === 'textarea' || el.isContentEditable ||
      (tag === 'input' && typing.includes((el.getAttribute('type') || '').toLowerCase()));
    const index = out.length;
    el.setAttribute('%[1]s', String(index));
    out.push({
      index: index,
      type: isInput ? 'input' : 'clickable',
      tag: tag,
      text: ((el.innerText || el.value || '') + '').trim().slice(0, %[2]d),
      aria: el.getAttribute('aria-label') || '',
      placeholder: el.getAttribute('placeholder') || '',
      title: el.getAttribute('title') || '',
      id: el.id || '',
      name: el.getAttribute('name') || '',
    });
    if (out.length >= %[3]d) break;
  }
  return out;
})()`, indexAttr, maxTextSize, maxScanned)

func indexSelector(index int) string {
	return fmt.Sprintf(`[%s="%d"]`, indexAttr, index)
}

// ScanElements lists the interactable elements of the page. Indexes stay
// valid until the next scan or navigation.
func (b *Browser) ScanElements(ctx context.Context) ([]schemas.DOMElement, error) {
	var elements []schemas.DOMElement
	if err := b.run(ctx, b.actionTimeout(), chromedp.Evaluate(scanScript, &elements)); err != nil {
		return nil, fmt.Errorf("element scan failed: %w", err)
	}
	b.logger.Debug("Page scanned", zap.Int("elements", len(elements)))
	return elements, nil
}

func (b *Browser) requireElement(ctx context.Context, index int) (string, error) {
	sel := indexSelector(index)
	var present bool
	if err := b.run(ctx, b.actionTimeout(), chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, sel), &present)); err != nil {
		return "", err
	}
	if !present {
		return "", fmt.Errorf("element %d: %w", index, ErrElementGone)
	}
	return sel, nil
}

// ClickElement clicks the element with the given scan index.
func (b *Browser) ClickElement(ctx context.Context, index int) error {
	sel, err := b.requireElement(ctx, index)
	if err != nil {
		return err
	}
	return b.run(ctx, b.actionTimeout(),
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

// FillElement replaces the value of the element with the given scan index.
func (b *Browser) FillElement(ctx context.Context, index int, text string) error {
	sel, err := b.requireElement(ctx, index)
	if err != nil {
		return err
	}
	return b.run(ctx, b.actionTimeout(),
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

// PressEnter sends Enter to the focused element.
func (b *Browser) PressEnter(ctx context.Context) error {
	return b.run(ctx, b.actionTimeout(), chromedp.KeyEvent(kb.Enter))
}

func (b *Browser) outerHTML(ctx context.Context) (string, error) {
	var src string
	if err := b.run(ctx, b.actionTimeout(), chromedp.OuterHTML("html", &src, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return src, nil
}

// PageText returns the visible text of the page.
func (b *Browser) PageText(ctx context.Context) (string, error) {
	src, err := b.outerHTML(ctx)
	if err != nil {
		return "", err
	}
	return VisibleText(src)
}

// PageMarkdown returns the page converted to Markdown.
func (b *Browser) PageMarkdown(ctx context.Context) (string, error) {
	src, err := b.outerHTML(ctx)
	if err != nil {
		return "", err
	}
	url, err := b.CurrentURL(ctx)
	if err != nil {
		url = ""
	}
	return Markdown(src, url)
}
