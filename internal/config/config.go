// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	LLM() LLMRouterConfig
	Perception() PerceptionConfig
	Fusion() FusionConfig
	Enrichment() EnrichmentConfig
	Monitor() MonitorConfig
	Agent() AgentConfig
	Orchestrator() OrchestratorConfig
	Browser() BrowserConfig
	Safety() SafetyConfig
	Control() ControlConfig
	Metrics() MetricsConfig

	// Agent Setters
	SetAgentMaxSteps(int)
	SetAgentFastPathEnabled(bool)

	// Orchestrator Setters
	SetOrchestratorMaxIterations(int)
	SetOrchestratorTranscriptPath(string)
	SetOrchestratorVisionOnly(bool)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration. It uses private fields
// to enforce access through the Interface's getter methods; viper decodes into
// the exported fileConfig mirror first.
type Config struct {
	logger       LoggerConfig
	llm          LLMRouterConfig
	perception   PerceptionConfig
	fusion       FusionConfig
	enrichment   EnrichmentConfig
	monitor      MonitorConfig
	agent        AgentConfig
	orchestrator OrchestratorConfig
	browser      BrowserConfig
	safety       SafetyConfig
	control      ControlConfig
	metrics      MetricsConfig
}

// fileConfig is the on-disk shape of Config.
type fileConfig struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	LLM          LLMRouterConfig    `mapstructure:"llm" yaml:"llm"`
	Perception   PerceptionConfig   `mapstructure:"perception" yaml:"perception"`
	Fusion       FusionConfig       `mapstructure:"fusion" yaml:"fusion"`
	Enrichment   EnrichmentConfig   `mapstructure:"enrichment" yaml:"enrichment"`
	Monitor      MonitorConfig      `mapstructure:"monitor" yaml:"monitor"`
	Agent        AgentConfig        `mapstructure:"agent" yaml:"agent"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Safety       SafetyConfig       `mapstructure:"safety" yaml:"safety"`
	Control      ControlConfig      `mapstructure:"control" yaml:"control"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

func (c *Config) Logger() LoggerConfig             { return c.logger }
func (c *Config) LLM() LLMRouterConfig             { return c.llm }
func (c *Config) Perception() PerceptionConfig     { return c.perception }
func (c *Config) Fusion() FusionConfig             { return c.fusion }
func (c *Config) Enrichment() EnrichmentConfig     { return c.enrichment }
func (c *Config) Monitor() MonitorConfig           { return c.monitor }
func (c *Config) Agent() AgentConfig               { return c.agent }
func (c *Config) Orchestrator() OrchestratorConfig { return c.orchestrator }
func (c *Config) Browser() BrowserConfig           { return c.browser }
func (c *Config) Safety() SafetyConfig             { return c.safety }
func (c *Config) Control() ControlConfig           { return c.control }
func (c *Config) Metrics() MetricsConfig           { return c.metrics }

// -- Setters --

func (c *Config) SetAgentMaxSteps(n int) {
	c.agent.MaxSteps = n
}

func (c *Config) SetAgentFastPathEnabled(b bool) {
	c.agent.FastPathEnabled = b
}

func (c *Config) SetOrchestratorMaxIterations(n int) {
	c.orchestrator.MaxIterations = n
}

func (c *Config) SetOrchestratorTranscriptPath(p string) {
	c.orchestrator.TranscriptPath = p
}

func (c *Config) SetOrchestratorVisionOnly(b bool) {
	c.orchestrator.VisionOnly = b
}

func (c *Config) SetBrowserHeadless(b bool) {
	c.browser.Headless = b
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic. The planner runs on the
// powerful model and the grounding executor on the fast model.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	// APIKey applies to every model that does not set its own.
	APIKey               string                    `mapstructure:"api_key" yaml:"-"`
	// RequestsPerMinute caps oracle calls across tiers. Zero disables limiting.
	RequestsPerMinute    int                       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// PerceptionConfig configures frame preprocessing and the detector adapters.
type PerceptionConfig struct {
	// CropWidthRatio keeps the left fraction of the frame; 1.0 keeps it all.
	CropWidthRatio    float64       `mapstructure:"crop_width_ratio" yaml:"crop_width_ratio"`
	MaxWidth          int           `mapstructure:"max_width" yaml:"max_width"`
	Contrast          bool          `mapstructure:"contrast" yaml:"contrast"`
	Sharpen           bool          `mapstructure:"sharpen" yaml:"sharpen"`
	OCRMinConfidence  float64       `mapstructure:"ocr_min_confidence" yaml:"ocr_min_confidence"`
	UIMinConfidence   float64       `mapstructure:"ui_min_confidence" yaml:"ui_min_confidence"`
	DetectorEndpoint  string        `mapstructure:"detector_endpoint" yaml:"detector_endpoint"`
	DetectorTimeout   time.Duration `mapstructure:"detector_timeout" yaml:"detector_timeout"`
	AppendOCRElements bool          `mapstructure:"append_ocr_elements" yaml:"append_ocr_elements"`
}

// DefaultNMSThreshold is used when fusion.nms_threshold is unset.
const DefaultNMSThreshold = 0.3

// FusionConfig configures detection fusion.
type FusionConfig struct {
	NMSThreshold float64 `mapstructure:"nms_threshold" yaml:"nms_threshold"`
}

// EnrichmentConfig configures semantic enrichment.
type EnrichmentConfig struct {
	MaxOCRDistance float64 `mapstructure:"max_ocr_distance" yaml:"max_ocr_distance"`
	// Context selects the spatial vocabulary: "browser" or "desktop".
	Context        string  `mapstructure:"context" yaml:"context"`
}

// MonitorConfig configures the screen change monitor.
type MonitorConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
	DiffThreshold float64 `mapstructure:"diff_threshold" yaml:"diff_threshold"`
	HistorySize   int     `mapstructure:"history_size" yaml:"history_size"`
}

// AgentConfig configures the vision grounding control loop.
type AgentConfig struct {
	MaxSteps          int           `mapstructure:"max_steps" yaml:"max_steps"`
	FastPathEnabled   bool          `mapstructure:"fast_path_enabled" yaml:"fast_path_enabled"`
	HistoryWindow     int           `mapstructure:"history_window" yaml:"history_window"`
	SequenceGap       time.Duration `mapstructure:"sequence_gap" yaml:"sequence_gap"`
	PostActionDelay   time.Duration `mapstructure:"post_action_delay" yaml:"post_action_delay"`
	MaxPromptElements int           `mapstructure:"max_prompt_elements" yaml:"max_prompt_elements"`
	PlannerFallback   bool          `mapstructure:"planner_fallback" yaml:"planner_fallback"`
	MaxWait           time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	// ZoneCrop asks the fast tier which band of the screen to send to grounding.
	ZoneCrop          bool          `mapstructure:"zone_crop" yaml:"zone_crop"`
	// AutoClosePopups dismisses cookie banners and popups before each capture.
	AutoClosePopups   bool          `mapstructure:"auto_close_popups" yaml:"auto_close_popups"`
}

// OrchestratorConfig configures the top-level task orchestrator.
type OrchestratorConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	VisionMaxSteps int           `mapstructure:"vision_max_steps" yaml:"vision_max_steps"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	TranscriptPath string        `mapstructure:"transcript_path" yaml:"transcript_path"`
	// VisionOnly routes every step through the vision loop and skips planning.
	VisionOnly     bool          `mapstructure:"vision_only" yaml:"vision_only"`
}

// BrowserConfig holds settings for the controlled Chrome instance.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	// RemoteURL attaches to an already running Chrome (ws:// or http://host:port).
	RemoteURL         string         `mapstructure:"remote_url" yaml:"remote_url"`
	DebugPort         int            `mapstructure:"debug_port" yaml:"debug_port"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	DisableGPU        bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	StartURL          string         `mapstructure:"start_url" yaml:"start_url"`
}

// SafetyConfig controls user intervention detection.
type SafetyConfig struct {
	InterventionDetection bool     `mapstructure:"intervention_detection" yaml:"intervention_detection"`
	PauseOnIntervention   bool     `mapstructure:"pause_on_intervention" yaml:"pause_on_intervention"`
	ConfirmPurchase       bool     `mapstructure:"confirm_purchase" yaml:"confirm_purchase"`
	ConfirmDownload       bool     `mapstructure:"confirm_download" yaml:"confirm_download"`
	ConfirmDelete         bool     `mapstructure:"confirm_delete" yaml:"confirm_delete"`
	ConfirmEmail          bool     `mapstructure:"confirm_email" yaml:"confirm_email"`
	CaptchaKeywords       []string `mapstructure:"captcha_keywords" yaml:"captcha_keywords"`
	PasswordKeywords      []string `mapstructure:"password_keywords" yaml:"password_keywords"`
}

// ControlConfig configures the out-of-band pause/continue/quit listeners.
type ControlConfig struct {
	Stdin       bool   `mapstructure:"stdin" yaml:"stdin"`
	ControlFile string `mapstructure:"control_file" yaml:"control_file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return fc.toConfig()
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-pilot")
	v.SetDefault("logger.log_file", "pilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_minute", 60)

	// -- Perception --
	v.SetDefault("perception.crop_width_ratio", 1.0)
	v.SetDefault("perception.max_width", 1280)
	v.SetDefault("perception.contrast", true)
	v.SetDefault("perception.sharpen", false)
	v.SetDefault("perception.ocr_min_confidence", 0.3)
	v.SetDefault("perception.ui_min_confidence", 0.25)
	v.SetDefault("perception.detector_endpoint", "http://localhost:8765")
	v.SetDefault("perception.detector_timeout", "20s")
	v.SetDefault("perception.append_ocr_elements", true)

	// -- Fusion & Enrichment --
	v.SetDefault("fusion.nms_threshold", DefaultNMSThreshold)
	v.SetDefault("enrichment.max_ocr_distance", 50.0)
	v.SetDefault("enrichment.context", "browser")

	// -- Monitor --
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.diff_threshold", 0.05)
	v.SetDefault("monitor.history_size", 3)

	// -- Agent --
	v.SetDefault("agent.max_steps", 15)
	v.SetDefault("agent.fast_path_enabled", true)
	v.SetDefault("agent.history_window", 3)
	v.SetDefault("agent.sequence_gap", "300ms")
	v.SetDefault("agent.post_action_delay", "1s")
	v.SetDefault("agent.max_prompt_elements", 80)
	v.SetDefault("agent.planner_fallback", true)
	v.SetDefault("agent.max_wait", "10s")
	v.SetDefault("agent.zone_crop", false)
	v.SetDefault("agent.auto_close_popups", true)

	// -- Orchestrator --
	v.SetDefault("orchestrator.max_iterations", 20)
	v.SetDefault("orchestrator.vision_max_steps", 10)
	v.SetDefault("orchestrator.command_timeout", "30s")
	v.SetDefault("orchestrator.transcript_path", "")
	v.SetDefault("orchestrator.vision_only", false)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.debug_port", 9222)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.start_url", "about:blank")
	v.SetDefault("browser.disable_gpu", false)
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Safety --
	v.SetDefault("safety.intervention_detection", true)
	v.SetDefault("safety.pause_on_intervention", false)
	v.SetDefault("safety.confirm_purchase", true)
	v.SetDefault("safety.confirm_download", true)
	v.SetDefault("safety.confirm_delete", true)
	v.SetDefault("safety.confirm_email", true)
	v.SetDefault("safety.captcha_keywords", []string{"captcha", "recaptcha", "verify", "i'm not a robot", "i am not a robot"})
	v.SetDefault("safety.password_keywords", []string{"password", "mot de passe", "login", "sign in", "connexion"})

	// -- Control --
	v.SetDefault("control.stdin", false)
	v.SetDefault("control.control_file", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var fc fileConfig

	// Bind environment variables for sensitive data
	v.BindEnv("llm.api_key", "PILOT_GEMINI_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// A single key applies to every configured Gemini model without its own.
	apiKey := fc.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
		fc.LLM.APIKey = apiKey
	}
	for name, m := range fc.LLM.Models {
		if m.APIKey == "" && apiKey != "" {
			m.APIKey = apiKey
			fc.LLM.Models[name] = m
		}
	}

	cfg := fc.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (fc fileConfig) toConfig() *Config {
	return &Config{
		logger:       fc.Logger,
		llm:          fc.LLM,
		perception:   fc.Perception,
		fusion:       fc.Fusion,
		enrichment:   fc.Enrichment,
		monitor:      fc.Monitor,
		agent:        fc.Agent,
		orchestrator: fc.Orchestrator,
		browser:      fc.Browser,
		safety:       fc.Safety,
		control:      fc.Control,
		metrics:      fc.Metrics,
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be a positive integer")
	}
	if err := c.perception.Validate(); err != nil {
		return fmt.Errorf("perception configuration invalid: %w", err)
	}
	if c.fusion.NMSThreshold < 0 || c.fusion.NMSThreshold > 1 {
		return fmt.Errorf("fusion.nms_threshold must be between 0.0 and 1.0")
	}
	if c.monitor.Enabled {
		if c.monitor.DiffThreshold < 0 || c.monitor.DiffThreshold > 1 {
			return fmt.Errorf("monitor.diff_threshold must be between 0.0 and 1.0")
		}
		if c.monitor.HistorySize <= 0 {
			return fmt.Errorf("monitor.history_size must be a positive integer")
		}
	}
	return nil
}

// Validate checks the perception settings.
func (p *PerceptionConfig) Validate() error {
	if p.CropWidthRatio <= 0 || p.CropWidthRatio > 1 {
		return fmt.Errorf("crop_width_ratio must be in (0, 1]")
	}
	if p.MaxWidth < 0 {
		return fmt.Errorf("max_width must not be negative")
	}
	return nil
}
