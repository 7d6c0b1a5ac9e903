package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/agent"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/control"
	"github.com/xkilldash9x/scalpel-pilot/internal/files"
	"github.com/xkilldash9x/scalpel-pilot/internal/intervention"
	"github.com/xkilldash9x/scalpel-pilot/internal/launcher"
	"github.com/xkilldash9x/scalpel-pilot/internal/llmclient"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
	"github.com/xkilldash9x/scalpel-pilot/internal/orchestrator"
	"github.com/xkilldash9x/scalpel-pilot/internal/orchestrator/skills"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception/remote"
	"github.com/xkilldash9x/scalpel-pilot/internal/router"
)

// components is everything one task needs, assembled from configuration.
type components struct {
	Browser      *browser.Browser
	LLM          schemas.LLMClient
	Metrics      *observability.Metrics
	Signals      *control.Signals
	Orchestrator *orchestrator.Orchestrator
}

// Shutdown releases the browser and the oracle clients.
func (c *components) Shutdown(logger *zap.Logger) {
	if c.Browser != nil {
		if err := c.Browser.Close(); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM clients", zap.Error(err))
		}
	}
}

// newPerceiver builds the perception pipeline. Without a detector endpoint
// the pipeline sees no elements and grounding relies on the fast path.
func newPerceiver(cfg config.Interface, logger *zap.Logger) *perception.Perceiver {
	pc := cfg.Perception()
	if pc.DetectorEndpoint == "" {
		logger.Warn("perception.detector_endpoint is not set; screenshots will carry no detected elements")
		return perception.New(cfg, nil, nil, logger)
	}
	detectors := remote.NewClient(pc, logger)
	return perception.New(cfg, detectors, detectors, logger)
}

// initializeComponents wires the browser, oracle, perception, agent, skills
// and orchestrator. On error everything built so far is released.
func initializeComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (c *components, err error) {
	c = &components{
		Metrics: observability.NewMetrics(),
		Signals: control.NewSignals(logger),
	}
	defer func() {
		if err != nil {
			c.Shutdown(logger)
			c = nil
		}
	}()

	if c.LLM, err = llmclient.NewClient(ctx, cfg.LLM(), logger, c.Metrics); err != nil {
		return c, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if c.Browser, err = browser.Launch(ctx, cfg.Browser(), logger); err != nil {
		return c, err
	}

	var detector *intervention.Detector
	if cfg.Safety().InterventionDetection {
		detector = intervention.NewDetector(cfg.Safety(), logger)
	}
	var fastPath agent.FastPath
	if cfg.Agent().FastPathEnabled {
		fastPath = router.New(c.Browser, c.LLM, cfg.Agent(), logger)
	}

	vision, err := agent.New(cfg, agent.Dependencies{
		LLM:          c.LLM,
		Capturer:     c.Browser,
		Input:        c.Browser,
		Perceiver:    newPerceiver(cfg, logger),
		FastPath:     fastPath,
		PageText:     c.Browser,
		Popups:       router.NewPopupCloser(c.Browser, c.Browser, logger),
		Intervention: detector,
		Signals:      c.Signals,
		Metrics:      c.Metrics,
	}, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize agent: %w", err)
	}

	fm, ferr := files.New(logger)
	if ferr != nil {
		logger.Warn("File manager disabled", zap.Error(ferr))
	}
	apps := launcher.New(c.Browser, logger)

	registry := skills.NewRegistry(
		skills.NewOpenURL(apps, logger),
		skills.NewFastPath(fastPath, c.Browser, detector, logger),
		skills.NewVision(vision, cfg.Orchestrator().VisionMaxSteps),
		skills.NewFileManager(c.LLM, fm, logger),
		skills.NewAppLauncher(apps),
		skills.NewRunCommand(cfg.Orchestrator().CommandTimeout, logger),
	)

	c.Orchestrator, err = orchestrator.New(cfg, orchestrator.Dependencies{
		LLM:     c.LLM,
		Skills:  registry,
		Signals: c.Signals,
		Metrics: c.Metrics,
	}, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	return c, nil
}
