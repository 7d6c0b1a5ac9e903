// Package intervention spots screens that need a human: captchas, credential
// prompts, risky planned actions and blocking errors.
package intervention

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

// Reason classifies why a human is needed.
type Reason string

const (
	ReasonCaptcha      Reason = "captcha"
	ReasonPassword     Reason = "password"
	ReasonConfirmation Reason = "confirmation"
	ReasonError        Reason = "error"
)

// Detection is the outcome of one check. Needed false means carry on.
type Detection struct {
	Needed     bool
	Reason     Reason
	Confidence float64
	Message    string
	Keyword    string
}

type confirmationRule struct {
	enabled    func(config.SafetyConfig) bool
	keywords   []string
	confidence float64
	message    string
}

var confirmationRules = []confirmationRule{
	{
		enabled:    func(c config.SafetyConfig) bool { return c.ConfirmPurchase },
		keywords:   []string{"acheter", "payer", "buy", "checkout", "payment", "confirm payment"},
		confidence: 0.95,
		message:    "confirmation required before a purchase",
	},
	{
		enabled:    func(c config.SafetyConfig) bool { return c.ConfirmDownload },
		keywords:   []string{"download", "télécharger", "save file", "enregistrer"},
		confidence: 0.9,
		message:    "confirmation required before a download",
	},
	{
		enabled:    func(c config.SafetyConfig) bool { return c.ConfirmDelete },
		keywords:   []string{"delete", "supprimer", "remove", "trash", "permanently delete"},
		confidence: 0.95,
		message:    "confirmation required before deleting",
	},
	{
		enabled:    func(c config.SafetyConfig) bool { return c.ConfirmEmail },
		keywords:   []string{"send", "envoyer", "send email", "envoyer email"},
		confidence: 0.9,
		message:    "confirmation required before sending an email",
	},
}

var errorKeywords = []string{
	"access denied", "accès refusé",
	"incorrect password", "mot de passe incorrect",
	"error", "erreur",
	"failed", "échec", "échoué",
	"not authorized", "non autorisé",
}

// Detector applies the checks in priority order; the first hit wins.
type Detector struct {
	cfg    config.SafetyConfig
	logger *zap.Logger
}

// NewDetector creates a Detector for the given safety settings.
func NewDetector(cfg config.SafetyConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, logger: logger.Named("intervention")}
}

// Check inspects the page text, the planner's screen description and the
// decision about to be executed.
func (d *Detector) Check(pageText, description string, planned *schemas.ActionDecision) Detection {
	screen := strings.ToLower(pageText + "\n" + description)

	if kw, ok := findAny(screen, d.cfg.CaptchaKeywords); ok {
		return d.hit(ReasonCaptcha, 0.9, "captcha detected, solve it manually", kw)
	}
	if kw, ok := findAny(screen, d.cfg.PasswordKeywords); ok {
		return d.hit(ReasonPassword, 0.8, "password field detected, enter your credentials", kw)
	}
	if planned != nil {
		action := actionText(*planned)
		for _, rule := range confirmationRules {
			if !rule.enabled(d.cfg) {
				continue
			}
			if kw, ok := findAny(action, rule.keywords); ok {
				return d.hit(ReasonConfirmation, rule.confidence, rule.message, kw)
			}
		}
	}
	if kw, ok := findAny(screen, errorKeywords); ok {
		return d.hit(ReasonError, 0.7, "blocking error detected, check the screen", kw)
	}
	return Detection{}
}

func (d *Detector) hit(reason Reason, confidence float64, message, keyword string) Detection {
	det := Detection{Needed: true, Reason: reason, Confidence: confidence, Message: message, Keyword: keyword}
	d.logger.Debug("Intervention check matched",
		zap.String("reason", string(reason)),
		zap.String("keyword", keyword),
		zap.Float64("confidence", confidence),
	)
	return det
}

func findAny(haystack string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(haystack, kw) {
			return kw, true
		}
	}
	return "", false
}

// actionText flattens a decision into lowercase text for keyword matching.
func actionText(d schemas.ActionDecision) string {
	var sb strings.Builder
	sb.WriteString(d.Describe())
	sb.WriteByte(' ')
	sb.WriteString(d.Reasoning)

	keys := make([]string, 0, len(d.Params))
	for k := range d.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, d.Params[k])
	}
	for _, s := range d.Steps {
		sb.WriteByte(' ')
		sb.WriteString(actionText(s))
	}
	return strings.ToLower(sb.String())
}
