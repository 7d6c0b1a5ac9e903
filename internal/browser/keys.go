package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"del":        kb.Delete,
	"space":      " ",
	"up":         kb.ArrowUp,
	"arrowup":    kb.ArrowUp,
	"down":       kb.ArrowDown,
	"arrowdown":  kb.ArrowDown,
	"left":       kb.ArrowLeft,
	"arrowleft":  kb.ArrowLeft,
	"right":      kb.ArrowRight,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"f5":         kb.F5,
	"f11":        kb.F11,
}

var modifierKeys = map[string]input.Modifier{
	"ctrl":    input.ModifierCtrl,
	"control": input.ModifierCtrl,
	"alt":     input.ModifierAlt,
	"option":  input.ModifierAlt,
	"shift":   input.ModifierShift,
	"cmd":     input.ModifierMeta,
	"command": input.ModifierMeta,
	"meta":    input.ModifierMeta,
	"win":     input.ModifierMeta,
	"super":   input.ModifierMeta,
}

// resolveKey maps a key name to what chromedp.KeyEvent expects. Single
// characters pass through.
func resolveKey(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("_", "", "-", "", " ", "").Replace(n)
	if k, ok := namedKeys[n]; ok {
		return k, nil
	}
	if r := []rune(strings.TrimSpace(name)); len(r) == 1 {
		return string(r), nil
	}
	return "", fmt.Errorf("unknown key %q", name)
}

// resolveHotkey splits a combination into its modifiers and the final key.
func resolveHotkey(keys []string) (string, []input.Modifier, error) {
	var mods []input.Modifier
	var key string
	for _, k := range keys {
		if m, ok := modifierKeys[strings.ToLower(strings.TrimSpace(k))]; ok {
			mods = append(mods, m)
			continue
		}
		if key != "" {
			return "", nil, fmt.Errorf("hotkey %v has more than one non-modifier key", keys)
		}
		resolved, err := resolveKey(k)
		if err != nil {
			return "", nil, err
		}
		key = resolved
	}
	if key == "" {
		return "", nil, fmt.Errorf("hotkey %v has no key to press", keys)
	}
	return key, mods, nil
}
