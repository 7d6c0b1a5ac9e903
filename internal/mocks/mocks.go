// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"image"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) LLM() config.LLMRouterConfig {
	args := m.Called()
	return args.Get(0).(config.LLMRouterConfig)
}

func (m *MockConfig) Perception() config.PerceptionConfig {
	args := m.Called()
	return args.Get(0).(config.PerceptionConfig)
}

func (m *MockConfig) Fusion() config.FusionConfig {
	args := m.Called()
	return args.Get(0).(config.FusionConfig)
}

func (m *MockConfig) Enrichment() config.EnrichmentConfig {
	args := m.Called()
	return args.Get(0).(config.EnrichmentConfig)
}

func (m *MockConfig) Monitor() config.MonitorConfig {
	args := m.Called()
	return args.Get(0).(config.MonitorConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Orchestrator() config.OrchestratorConfig {
	args := m.Called()
	return args.Get(0).(config.OrchestratorConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Safety() config.SafetyConfig {
	args := m.Called()
	return args.Get(0).(config.SafetyConfig)
}

func (m *MockConfig) Control() config.ControlConfig {
	args := m.Called()
	return args.Get(0).(config.ControlConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetAgentMaxSteps(n int) {
	m.Called(n)
}

func (m *MockConfig) SetAgentFastPathEnabled(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetOrchestratorMaxIterations(n int) {
	m.Called(n)
}

func (m *MockConfig) SetOrchestratorTranscriptPath(p string) {
	m.Called(p)
}

func (m *MockConfig) SetOrchestratorVisionOnly(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close provides a mock function for releasing the client.
func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Page Mock --

// MockPage mocks router.Page.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) ScanElements(ctx context.Context) ([]schemas.DOMElement, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.DOMElement), args.Error(1)
}
func (m *MockPage) ClickElement(ctx context.Context, index int) error {
	return m.Called(ctx, index).Error(0)
}
func (m *MockPage) FillElement(ctx context.Context, index int, text string) error {
	return m.Called(ctx, index, text).Error(0)
}
func (m *MockPage) PressEnter(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockPage) PageText(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockPage) PageMarkdown(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockPage) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Input Driver Mock --

// MockInputDriver mocks agent.InputDriver.
type MockInputDriver struct {
	mock.Mock
}

func (m *MockInputDriver) Click(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}
func (m *MockInputDriver) TypeText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}
func (m *MockInputDriver) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockInputDriver) Hotkey(ctx context.Context, keys []string) error {
	return m.Called(ctx, keys).Error(0)
}
func (m *MockInputDriver) Scroll(ctx context.Context, clicks int) error {
	return m.Called(ctx, clicks).Error(0)
}
func (m *MockInputDriver) OpenURL(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockInputDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Screen Capturer Mock --

// MockScreenCapturer mocks agent.ScreenCapturer.
type MockScreenCapturer struct {
	mock.Mock
}

func (m *MockScreenCapturer) Capture(ctx context.Context) (image.Image, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(image.Image), args.Error(1)
}

// -- Detector Mocks --

// MockTextDetector mocks perception.TextDetector.
type MockTextDetector struct {
	mock.Mock
}

func (m *MockTextDetector) DetectText(ctx context.Context, img image.Image) ([]schemas.RawDetection, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.RawDetection), args.Error(1)
}

// MockUIDetector mocks perception.UIDetector.
type MockUIDetector struct {
	mock.Mock
}

func (m *MockUIDetector) DetectUI(ctx context.Context, img image.Image) ([]schemas.RawDetection, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.RawDetection), args.Error(1)
}
