package skills

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/agent"
	"github.com/xkilldash9x/scalpel-pilot/internal/intervention"
)

// urlPattern finds explicit URLs, www hosts and bare domains.
var urlPattern = regexp.MustCompile(`(?i)\b((?:https?://|www\.)[^\s"'<>]+|[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}(?:/[^\s"'<>]*)?)`)

// ExtractURL returns the first URL-looking token in instruction.
func ExtractURL(instruction string) (string, bool) {
	m := urlPattern.FindString(instruction)
	m = strings.TrimRight(m, ".,;:!?)")
	if m == "" {
		return "", false
	}
	return m, true
}

// URLLauncher opens a URL and returns the normalized form it opened.
type URLLauncher interface {
	LaunchURL(ctx context.Context, url string) (string, error)
}

// -- open_url --

// OpenURL navigates to the URL named in the instruction.
type OpenURL struct {
	launcher URLLauncher
	logger   *zap.Logger
}

// NewOpenURL creates the open_url skill.
func NewOpenURL(launcher URLLauncher, logger *zap.Logger) *OpenURL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenURL{launcher: launcher, logger: logger.Named("skill.open_url")}
}

func (s *OpenURL) Name() schemas.SkillName { return schemas.SkillOpenURL }

func (s *OpenURL) Execute(ctx context.Context, instruction string, _ map[string]any) (map[string]any, error) {
	if s.launcher == nil {
		return nil, ErrUnavailable
	}
	url, ok := ExtractURL(instruction)
	if !ok {
		return Failure(errors.New("no URL found in the instruction")), nil
	}
	opened, err := s.launcher.LaunchURL(ctx, url)
	if err != nil {
		return Failure(err), nil
	}
	s.logger.Debug("URL opened", zap.String("url", opened))
	return map[string]any{KeySuccess: true, KeyURL: opened}, nil
}

// -- fast_path --

// FastPath runs an instruction as a single DOM action. After a successful
// action the page is checked for a captcha, which marks the result as
// needing user input.
type FastPath struct {
	router   agent.FastPath
	page     agent.PageTextSource
	detector *intervention.Detector
	logger   *zap.Logger
}

// NewFastPath creates the fast_path skill. page and detector are optional.
func NewFastPath(router agent.FastPath, page agent.PageTextSource, detector *intervention.Detector, logger *zap.Logger) *FastPath {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FastPath{router: router, page: page, detector: detector, logger: logger.Named("skill.fast_path")}
}

func (s *FastPath) Name() schemas.SkillName { return schemas.SkillFastPath }

func (s *FastPath) Execute(ctx context.Context, instruction string, state map[string]any) (map[string]any, error) {
	if s.router == nil {
		return nil, ErrUnavailable
	}
	res := s.router.TryExecute(ctx, instruction, stringValue(state, KeyTask))
	out := map[string]any{
		KeySuccess: res.Success,
		"action":   string(res.Action),
		"reason":   res.Reason,
	}
	if !res.Success {
		out[KeyError] = res.Reason
		if res.Retriable {
			out["retriable"] = true
		}
	}
	for k, v := range res.Payload {
		out[k] = v
	}

	if res.Success && s.page != nil && s.detector != nil {
		text, err := s.page.PageText(ctx)
		if err != nil {
			s.logger.Debug("Could not read page text for the intervention check", zap.Error(err))
			return out, nil
		}
		// Only captchas block a DOM flow outright; login links are everywhere.
		if det := s.detector.Check(text, "", nil); det.Needed && det.Reason == intervention.ReasonCaptcha {
			out[KeyNeedsInput] = true
			out["intervention"] = det.Message
		}
	}
	return out, nil
}
