// Package files carries out the file operations requested by the file skill.
// Paths may use the Desktop/ and Documents/ shorthands, which resolve against
// the user's home directory.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// ReadPreviewLimit caps the content returned by a read.
const ReadPreviewLimit = 500

// Op is a file operation name as the oracle spells it.
type Op string

const (
	OpCreate Op = "create"
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpAppend Op = "append"
	OpDelete Op = "delete"
	OpList   Op = "list"
	OpExists Op = "exists"
)

// ErrEmptyPath is returned when an operation names no file.
var ErrEmptyPath = errors.New("no file path given")

// Request is one operation decided by the oracle.
type Request struct {
	Action  Op     `json:"action"`
	Path    string `json:"filepath"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// Manager resolves and applies file operations.
type Manager struct {
	home   string
	logger *zap.Logger
}

// New creates a Manager rooted at the current user's home directory.
func New(logger *zap.Logger) (*Manager, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, fmt.Errorf("could not determine home directory: %w", err)
	}
	return NewWithHome(home, logger), nil
}

// NewWithHome creates a Manager that treats home as the home directory.
func NewWithHome(home string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{home: home, logger: logger.Named("files")}
}

// Home returns the home directory paths resolve against.
func (m *Manager) Home() string { return m.home }

// Desktop returns the resolved desktop directory.
func (m *Manager) Desktop() string { return filepath.Join(m.home, "Desktop") }

// Documents returns the resolved documents directory.
func (m *Manager) Documents() string { return filepath.Join(m.home, "Documents") }

// Resolve expands the Desktop/, Documents/ and ~ shorthands. Other paths are
// returned cleaned but otherwise untouched.
func (m *Manager) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrEmptyPath
	}
	slashed := filepath.ToSlash(path)
	switch {
	case slashed == "~":
		return m.home, nil
	case strings.HasPrefix(slashed, "~/"):
		return filepath.Join(m.home, filepath.FromSlash(slashed[2:])), nil
	case slashed == "Desktop" || strings.HasPrefix(slashed, "Desktop/"):
		return filepath.Join(m.Desktop(), filepath.FromSlash(strings.TrimPrefix(slashed, "Desktop"))), nil
	case slashed == "Documents" || strings.HasPrefix(slashed, "Documents/"):
		return filepath.Join(m.Documents(), filepath.FromSlash(strings.TrimPrefix(slashed, "Documents"))), nil
	}
	return filepath.Clean(path), nil
}

// Create writes content to path, creating parent directories.
func (m *Manager) Create(path, content string) (string, error) {
	resolved, err := m.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return resolved, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return resolved, fmt.Errorf("failed to create file: %w", err)
	}
	m.logger.Info("File created", zap.String("path", resolved), zap.Int("bytes", len(content)))
	return resolved, nil
}

// Write replaces the content of an existing file.
func (m *Manager) Write(path, content string) (string, error) {
	resolved, err := m.Resolve(path)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(resolved, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return resolved, fmt.Errorf("failed to open file for writing: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return resolved, fmt.Errorf("failed to write file: %w", err)
	}
	return resolved, nil
}

// Append adds content to the end of path, creating it when missing.
func (m *Manager) Append(path, content string) (string, error) {
	resolved, err := m.Resolve(path)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(resolved, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return resolved, fmt.Errorf("failed to open file for appending: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return resolved, fmt.Errorf("failed to append to file: %w", err)
	}
	return resolved, nil
}

// Read returns the full content of path.
func (m *Manager) Read(path string) (string, string, error) {
	resolved, err := m.Resolve(path)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", resolved, fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), resolved, nil
}

// Delete removes a single file. Directories are refused.
func (m *Manager) Delete(path string) (string, error) {
	resolved, err := m.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return resolved, fmt.Errorf("cannot delete: %w", err)
	}
	if info.IsDir() {
		return resolved, fmt.Errorf("cannot delete %s: is a directory", resolved)
	}
	if err := os.Remove(resolved); err != nil {
		return resolved, fmt.Errorf("failed to delete file: %w", err)
	}
	m.logger.Info("File deleted", zap.String("path", resolved))
	return resolved, nil
}

// List returns the sorted entry paths of dir. An empty dir lists the home
// directory.
func (m *Manager) List(dir string) ([]string, string, error) {
	resolved := m.home
	if strings.TrimSpace(dir) != "" {
		var err error
		if resolved, err = m.Resolve(dir); err != nil {
			return nil, "", err
		}
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, resolved, fmt.Errorf("failed to list directory: %w", err)
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		items = append(items, filepath.Join(resolved, e.Name()))
	}
	sort.Strings(items)
	return items, resolved, nil
}

// Exists reports whether path exists.
func (m *Manager) Exists(path string) bool {
	resolved, err := m.Resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// Apply runs req and reports the outcome as a skill result map. Failures are
// reported in the map, never returned.
func (m *Manager) Apply(req Request) map[string]any {
	res := map[string]any{"action": string(req.Action)}
	var (
		path string
		err  error
	)
	switch Op(strings.ToLower(string(req.Action))) {
	case OpCreate:
		path, err = m.Create(req.Path, req.Content)
	case OpWrite:
		path, err = m.Write(req.Path, req.Content)
	case OpAppend:
		path, err = m.Append(req.Path, req.Content)
	case OpRead:
		var content string
		content, path, err = m.Read(req.Path)
		if err == nil {
			res["content"] = truncate(content, ReadPreviewLimit)
		}
	case OpDelete:
		path, err = m.Delete(req.Path)
	case OpList:
		var items []string
		items, path, err = m.List(req.Path)
		if err == nil {
			res["items"] = items
		}
	case OpExists:
		path, _ = m.Resolve(req.Path)
		res["exists"] = m.Exists(req.Path)
	default:
		err = fmt.Errorf("unknown file action: %q", req.Action)
	}

	if path != "" {
		res["filepath"] = path
	}
	res["success"] = err == nil
	if err != nil {
		res["error"] = err.Error()
		m.logger.Warn("File operation failed", zap.String("action", string(req.Action)), zap.Error(err))
	}
	return res
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
