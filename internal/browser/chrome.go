// Package browser drives a Chrome tab over the DevTools protocol. One Browser
// serves as the screen, the input device and the DOM surface of a task.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

const (
	defaultWidth         = 1920
	defaultHeight        = 1080
	defaultActionTimeout = 10 * time.Second
	defaultNavTimeout    = 30 * time.Second
	wheelNotch           = 120
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("browser is closed")

// Browser is one controlled Chrome tab. Operations are serialized.
type Browser struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	cfg         config.BrowserConfig
	logger      *zap.Logger
	width       int
	height      int

	mu     sync.Mutex
	closed bool
}

// DefaultAllocatorOptions translates the browser configuration into chromedp
// allocator options.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts,
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("allow-insecure-localhost", true),
		)
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.DebugPort > 0 && cfg.RemoteURL == "" {
		opts = append(opts, chromedp.Flag("remote-debugging-port", fmt.Sprint(cfg.DebugPort)))
	}
	w, h := viewport(cfg)
	opts = append(opts, chromedp.WindowSize(w, h))

	// Extra args come as "--flag" or "--key=value".
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, ok := strings.Cut(arg, "="); ok {
			opts = append(opts, chromedp.Flag(key, value))
			continue
		}
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

func viewport(cfg config.BrowserConfig) (int, int) {
	w, h := cfg.Viewport["width"], cfg.Viewport["height"]
	if w <= 0 {
		w = defaultWidth
	}
	if h <= 0 {
		h = defaultHeight
	}
	return w, h
}

// Launch starts Chrome, or attaches to the one at cfg.RemoteURL, and opens
// the tab the task works in.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(cfg)...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	w, h := viewport(cfg)
	b := &Browser{
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		cfg:         cfg,
		logger:      logger,
		width:       w,
		height:      h,
	}

	start := []chromedp.Action{chromedp.EmulateViewport(int64(w), int64(h))}
	if cfg.StartURL != "" {
		start = append(start, chromedp.Navigate(cfg.StartURL))
	}
	if err := b.run(ctx, b.navTimeout(), start...); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info("Browser ready",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("remote", cfg.RemoteURL != ""),
		zap.Int("width", w),
		zap.Int("height", h),
	)
	return b, nil
}

// Close shuts the tab and, when it was launched here, the browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()
	b.allocCancel()
	b.logger.Info("Browser closed")
	return nil
}

// run executes actions on the tab. The tab context carries the target while
// ctx bounds the call.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("browser action timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return err
	}
	return nil
}

func (b *Browser) actionTimeout() time.Duration {
	if b.cfg.ActionTimeout > 0 {
		return b.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// -- Screen --

// Capture grabs the viewport.
func (b *Browser) Capture(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := b.run(ctx, b.actionTimeout(), chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// -- Input --

// Click presses the left button at (x, y) in viewport pixels.
func (b *Browser) Click(ctx context.Context, x, y int) error {
	b.logger.Debug("Click", zap.Int("x", x), zap.Int("y", y))
	return b.run(ctx, b.actionTimeout(), chromedp.MouseClickXY(float64(x), float64(y)))
}

// TypeText types into whatever has focus.
func (b *Browser) TypeText(ctx context.Context, text string) error {
	timeout := b.actionTimeout() + time.Duration(len(text))*20*time.Millisecond
	return b.run(ctx, timeout, chromedp.KeyEvent(text))
}

// PressKey presses a named key such as "enter" or "pagedown".
func (b *Browser) PressKey(ctx context.Context, key string) error {
	k, err := resolveKey(key)
	if err != nil {
		return err
	}
	return b.run(ctx, b.actionTimeout(), chromedp.KeyEvent(k))
}

// Hotkey presses a combination such as ["ctrl", "l"].
func (b *Browser) Hotkey(ctx context.Context, keys []string) error {
	k, mods, err := resolveHotkey(keys)
	if err != nil {
		return err
	}
	return b.run(ctx, b.actionTimeout(), chromedp.KeyEvent(k, chromedp.KeyModifiers(mods...)))
}

// Scroll turns the wheel at the center of the viewport. Negative clicks
// scroll down.
func (b *Browser) Scroll(ctx context.Context, clicks int) error {
	x, y := float64(b.width)/2, float64(b.height)/2
	delta := float64(-clicks * wheelNotch)
	return b.run(ctx, b.actionTimeout(), chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaY(delta).Do(ctx)
	}))
}

// OpenURL navigates the tab.
func (b *Browser) OpenURL(ctx context.Context, url string) error {
	b.logger.Debug("Navigating", zap.String("url", url))
	if err := b.run(ctx, b.navTimeout(), chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the tab location.
func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := b.run(ctx, b.actionTimeout(), chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}
