// Package launcher opens URLs and starts desktop applications by fuzzy name.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// minMatchScore is the lowest fuzzy score accepted as a match.
const minMatchScore = 50

// ErrAppNotFound is returned when no known or installed application matches.
var ErrAppNotFound = errors.New("application not found")

// URLOpener opens a URL in a controlled browser.
type URLOpener interface {
	OpenURL(ctx context.Context, url string) error
}

// App describes a known application.
type App struct {
	Executable string
	Browser    bool
}

// knownApps maps spoken names onto executables.
var knownApps = map[string]App{
	"chrome":             {Executable: "google-chrome", Browser: true},
	"google chrome":      {Executable: "google-chrome", Browser: true},
	"chromium":           {Executable: "chromium", Browser: true},
	"firefox":            {Executable: "firefox", Browser: true},
	"edge":               {Executable: "microsoft-edge", Browser: true},
	"text editor":        {Executable: "gedit"},
	"notepad":            {Executable: "gedit"},
	"bloc-notes":         {Executable: "gedit"},
	"calculator":         {Executable: "gnome-calculator"},
	"calculatrice":       {Executable: "gnome-calculator"},
	"terminal":           {Executable: "x-terminal-emulator"},
	"files":              {Executable: "nautilus"},
	"file explorer":      {Executable: "nautilus"},
	"explorateur":        {Executable: "nautilus"},
	"vscode":             {Executable: "code"},
	"visual studio code": {Executable: "code"},
	"libreoffice":        {Executable: "libreoffice"},
	"writer":             {Executable: "libreoffice --writer"},
	"word":               {Executable: "libreoffice --writer"},
	"calc":               {Executable: "libreoffice --calc"},
	"excel":              {Executable: "libreoffice --calc"},
	"spotify":            {Executable: "spotify"},
	"discord":            {Executable: "discord"},
	"slack":              {Executable: "slack"},
	"zoom":               {Executable: "zoom"},
	"vlc":                {Executable: "vlc"},
}

// fillerWords are dropped when extracting an application name.
var fillerWords = map[string]bool{
	"open": true, "launch": true, "start": true, "run": true, "the": true,
	"app": true, "application": true, "program": true, "a": true, "an": true,
	"lancer": true, "ouvrir": true, "ouvre": true, "lance": true,
	"l'application": true, "la": true, "le": true, "l'": true,
}

// Match is the result of resolving an application name.
type Match struct {
	Name       string
	Executable string
	Score      int
	Browser    bool
}

// Launched reports a started application.
type Launched struct {
	Match
	PID int
}

// Launcher starts applications and URLs.
type Launcher struct {
	logger   *zap.Logger
	browser  URLOpener
	apps     map[string]App
	lookPath func(file string) (string, error)
	start    func(name string, args ...string) (int, error)
	goos     string
}

// New creates a Launcher. browser may be nil, in which case URLs go to the
// operating system's default opener.
func New(browser URLOpener, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	apps := make(map[string]App, len(knownApps))
	for k, v := range knownApps {
		apps[k] = v
	}
	return &Launcher{
		logger:   logger.Named("launcher"),
		browser:  browser,
		apps:     apps,
		lookPath: exec.LookPath,
		start:    startDetached,
		goos:     runtime.GOOS,
	}
}

// Register adds or replaces a known application.
func (l *Launcher) Register(name string, app App) {
	l.apps[strings.ToLower(strings.TrimSpace(name))] = app
}

// LaunchURL opens url, adding an https scheme when it has none.
func (l *Launcher) LaunchURL(ctx context.Context, url string) (string, error) {
	url = NormalizeURL(url)
	if url == "" {
		return "", errors.New("no url given")
	}
	if l.browser != nil {
		if err := l.browser.OpenURL(ctx, url); err != nil {
			return url, fmt.Errorf("browser could not open %s: %w", url, err)
		}
		l.logger.Info("Opened URL in browser", zap.String("url", url))
		return url, nil
	}

	name, args := osOpener(l.goos)
	if _, err := l.start(name, append(args, url)...); err != nil {
		return url, fmt.Errorf("could not open %s: %w", url, err)
	}
	l.logger.Info("Opened URL with system opener", zap.String("url", url), zap.String("opener", name))
	return url, nil
}

// LaunchApp resolves name and starts the application.
func (l *Launcher) LaunchApp(ctx context.Context, name string) (Launched, error) {
	if err := ctx.Err(); err != nil {
		return Launched{}, err
	}
	m := l.Match(name)
	if m.Score < minMatchScore {
		return Launched{Match: m}, fmt.Errorf("%w: %q", ErrAppNotFound, name)
	}

	fields := strings.Fields(m.Executable)
	pid, err := l.start(fields[0], fields[1:]...)
	if err != nil {
		return Launched{Match: m}, fmt.Errorf("failed to start %s: %w", m.Name, err)
	}
	l.logger.Info("Application launched",
		zap.String("query", name),
		zap.String("app", m.Name),
		zap.Int("score", m.Score),
		zap.Int("pid", pid),
	)
	return Launched{Match: m, PID: pid}, nil
}

// Match resolves a fuzzy application name: exact registry hit, then
// containment, then shared words, then an executable on $PATH.
func (l *Launcher) Match(name string) Match {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return Match{}
	}
	if app, ok := l.apps[query]; ok {
		return Match{Name: query, Executable: app.Executable, Score: 100, Browser: app.Browser}
	}

	var candidates []Match
	for known, app := range l.apps {
		if strings.Contains(known, query) || strings.Contains(query, known) {
			ratio := float64(len(query)) / float64(max(len(known), len(query)))
			if strings.Contains(query, known) {
				ratio = float64(len(known)) / float64(len(query))
			}
			candidates = append(candidates, Match{Name: known, Executable: app.Executable, Score: int(ratio * 90), Browser: app.Browser})
		}
	}
	if best, ok := bestOf(candidates); ok && best.Score >= minMatchScore {
		return best
	}

	words := strings.Fields(query)
	for known, app := range l.apps {
		common := 0
		for _, w := range words {
			for _, kw := range strings.Fields(known) {
				if w == kw {
					common++
				}
			}
		}
		if common > 0 {
			score := int(float64(common) / float64(len(words)) * 70)
			candidates = append(candidates, Match{Name: known, Executable: app.Executable, Score: score, Browser: app.Browser})
		}
	}
	if best, ok := bestOf(candidates); ok && best.Score >= minMatchScore {
		return best
	}

	exe := strings.ReplaceAll(query, " ", "-")
	if path, err := l.lookPath(exe); err == nil {
		return Match{Name: query, Executable: path, Score: 100}
	}
	best, _ := bestOf(candidates)
	return best
}

func bestOf(candidates []Match) (Match, bool) {
	if len(candidates) == 0 {
		return Match{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0], true
}

// ExtractAppName strips verbs, articles and punctuation from an instruction,
// leaving the application name. An instruction made only of filler is
// returned trimmed.
func ExtractAppName(instruction string) string {
	var kept []string
	for _, w := range strings.Fields(strings.ToLower(instruction)) {
		w = strings.Trim(w, `.,;:!?"'`)
		if w == "" || fillerWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(instruction)
	}
	return strings.Join(kept, " ")
}

// NormalizeURL trims url and adds https:// when no scheme is present.
func NormalizeURL(url string) string {
	url = strings.Trim(strings.TrimSpace(url), `"'`)
	if url == "" {
		return ""
	}
	if !strings.Contains(url, "://") && !strings.HasPrefix(url, "about:") && !strings.HasPrefix(url, "file:") {
		url = "https://" + url
	}
	return url
}

func osOpener(goos string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler"}
	}
	return "xdg-open", nil
}

// startDetached starts a process that outlives the call and reaps it in the
// background.
func startDetached(name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	return pid, nil
}
