package skills

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/files"
	"github.com/xkilldash9x/scalpel-pilot/internal/launcher"
	"github.com/xkilldash9x/scalpel-pilot/internal/llmutil"
	"github.com/xkilldash9x/scalpel-pilot/internal/router"
)

const (
	webContentPreview    = 2000
	maxCommandOutput     = 4000
	defaultCommandTimout = 30 * time.Second
)

// -- file_manager --

// FileManager lets the oracle pick one file operation for the instruction,
// with previously extracted web content available as material.
type FileManager struct {
	llm    schemas.LLMClient
	files  *files.Manager
	logger *zap.Logger
}

// NewFileManager creates the file_manager skill.
func NewFileManager(llm schemas.LLMClient, fm *files.Manager, logger *zap.Logger) *FileManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileManager{llm: llm, files: fm, logger: logger.Named("skill.file_manager")}
}

func (s *FileManager) Name() schemas.SkillName { return schemas.SkillFileManager }

func (s *FileManager) Execute(ctx context.Context, instruction string, state map[string]any) (map[string]any, error) {
	if s.llm == nil || s.files == nil {
		return nil, ErrUnavailable
	}
	web := stringValue(state, router.ExtractedContentKey)
	if web == "" {
		web = "No web content available"
	} else {
		web = truncate(web, webContentPreview)
	}

	req := schemas.GenerationRequest{
		SystemPrompt: "You are a file management assistant. Answer with a single JSON object.",
		UserPrompt: fmt.Sprintf(`INSTRUCTION: %s

LOCATIONS:
- Desktop: %s
- Documents: %s
- Home: %s

WEB CONTENT AVAILABLE (extracted earlier):
%s

AVAILABLE ACTIONS: "create", "read", "write", "append", "delete", "list", "exists".
When creating a file from web content, keep only the relevant information and summarize it.

Answer ONLY with valid JSON:
{
  "action": "create",
  "filepath": "Desktop/name.txt",
  "content": "file content, for create/write/append",
  "reason": "short explanation"
}`, instruction, s.files.Desktop(), s.files.Documents(), s.files.Home(), web),
		Tier:    schemas.TierFast,
		Options: schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true, MaxTokens: 1024},
	}
	raw, err := s.llm.Generate(ctx, req)
	if err != nil {
		return Failure(fmt.Errorf("file oracle failed: %w", err)), nil
	}
	op, err := llmutil.ParseJSONResponse[files.Request](raw)
	if err != nil {
		return Failure(errors.New("file oracle answer was not valid JSON")), nil
	}
	s.logger.Info("File operation decided",
		zap.String("action", string(op.Action)),
		zap.String("path", op.Path),
		zap.String("reason", op.Reason),
	)

	out := s.files.Apply(*op)
	if op.Reason != "" {
		out["reason"] = op.Reason
	}
	return out, nil
}

// -- app_launcher --

// AppStarter starts a named application.
type AppStarter interface {
	LaunchApp(ctx context.Context, name string) (launcher.Launched, error)
}

var _ AppStarter = (*launcher.Launcher)(nil)

// AppLauncher starts the application named in the instruction. Desktop
// applications are recorded under KeyApp so later DOM skills are avoided.
type AppLauncher struct {
	launcher AppStarter
}

// NewAppLauncher creates the app_launcher skill.
func NewAppLauncher(l AppStarter) *AppLauncher {
	return &AppLauncher{launcher: l}
}

func (s *AppLauncher) Name() schemas.SkillName { return schemas.SkillAppLauncher }

func (s *AppLauncher) Execute(ctx context.Context, instruction string, _ map[string]any) (map[string]any, error) {
	if s.launcher == nil {
		return nil, ErrUnavailable
	}
	name := launcher.ExtractAppName(instruction)
	launched, err := s.launcher.LaunchApp(ctx, name)
	if err != nil {
		out := Failure(err)
		out["app_query"] = name
		return out, nil
	}

	out := map[string]any{
		KeySuccess:    true,
		"pid":         launched.PID,
		"match_score": launched.Score,
	}
	if launched.Browser {
		out["browser"] = launched.Name
	} else {
		out[KeyApp] = launched.Name
	}
	return out, nil
}

// -- run_command --

// RunCommand runs the instruction through sh -c under a timeout.
type RunCommand struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunCommand creates the run_command skill. A zero timeout means 30s.
func NewRunCommand(timeout time.Duration, logger *zap.Logger) *RunCommand {
	if timeout <= 0 {
		timeout = defaultCommandTimout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunCommand{timeout: timeout, logger: logger.Named("skill.run_command")}
}

func (s *RunCommand) Name() schemas.SkillName { return schemas.SkillRunCommand }

func (s *RunCommand) Execute(ctx context.Context, instruction string, _ map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("Running command", zap.String("command", instruction))
	cmd := exec.CommandContext(ctx, "sh", "-c", instruction)
	// Children of the shell may hold the output pipe after it is killed.
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()

	out := map[string]any{
		KeySuccess: err == nil,
		"output":   truncate(string(output), maxCommandOutput),
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out[KeyError] = fmt.Sprintf("command timed out after %s", s.timeout)
	case err != nil:
		out[KeyError] = err.Error()
	}
	return out, nil
}
