// Package remote adapts an HTTP detection service (OCR and UI parsing models
// served out of process) to the perception detector interfaces.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

const (
	ocrPath = "/detect/ocr"
	uiPath  = "/detect/ui"

	maxResponseBytes = 16 << 20
)

// wireDetection is the service's JSON shape for one detection.
type wireDetection struct {
	Text       string  `json:"text"`
	BBox       []int   `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Caption    string  `json:"caption"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
	Error      string          `json:"error,omitempty"`
}

// Client talks to the detection service. It implements both
// perception.TextDetector and perception.UIDetector.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a detector client from perception settings.
func NewClient(cfg config.PerceptionConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.DetectorTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.DetectorEndpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("detector_client"),
	}
}

// DetectText returns OCR detections.
func (c *Client) DetectText(ctx context.Context, img image.Image) ([]schemas.RawDetection, error) {
	return c.detect(ctx, ocrPath, img, schemas.SourceOCR)
}

// DetectUI returns UI detections with captions.
func (c *Client) DetectUI(ctx context.Context, img image.Image) ([]schemas.RawDetection, error) {
	return c.detect(ctx, uiPath, img, schemas.SourceUIDetector)
}

func (c *Client) detect(ctx context.Context, path string, img image.Image, source schemas.DetectionSource) ([]schemas.RawDetection, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read detector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector %s returned status %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}

	var payload wireResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode detector response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("detector %s reported an error: %s", path, payload.Error)
	}

	out := make([]schemas.RawDetection, 0, len(payload.Detections))
	for _, d := range payload.Detections {
		if len(d.BBox) < 4 {
			continue
		}
		out = append(out, schemas.RawDetection{
			Text:       d.Text,
			BBox:       schemas.NewBoundingBox(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]),
			Confidence: d.Confidence,
			Source:     source,
			Caption:    d.Caption,
		})
	}
	c.logger.Debug("Detector call complete",
		zap.String("path", path),
		zap.Int("detections", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
