// Package monitor compares consecutive frames to tell the planner whether
// the last action visibly changed the screen. Reports are advisory.
package monitor

import (
	"fmt"
	"image"
	"image/draw"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

const (
	pixelThreshold   = 30
	popupCenterRatio = 0.2
	newWindowRatio   = 0.3
	stateChangeRatio = 0.15
	minChangeArea    = 500
	recentChanges    = 3
)

type change struct {
	kind    schemas.ChangeType
	percent float64
}

// Monitor keeps a bounded history of grayscale frames.
type Monitor struct {
	mu          sync.Mutex
	logger      *zap.Logger
	enabled     bool
	threshold   float64
	depth       int
	history     []*image.Gray
	lastPercent float64
	significant []change
}

// New creates a Monitor from configuration.
func New(cfg config.MonitorConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.HistorySize
	if depth <= 0 {
		depth = 3
	}
	return &Monitor{
		logger:    logger.Named("monitor"),
		enabled:   cfg.Enabled,
		threshold: cfg.DiffThreshold,
		depth:     depth,
	}
}

// AddFrame records frame and reports how it differs from the previous one.
// The first frame after construction or Reset yields an empty report.
func (m *Monitor) AddFrame(frame image.Image) schemas.ChangeReport {
	if !m.enabled {
		return emptyReport()
	}
	gray := toGray(frame)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		m.push(gray)
		return emptyReport()
	}
	prev := m.history[len(m.history)-1]
	report := m.compare(prev, gray)
	m.push(gray)

	m.lastPercent = report.ChangePercent
	if report.Changed {
		m.significant = append(m.significant, change{kind: report.ChangeType, percent: report.ChangePercent})
		m.logger.Debug("Screen changed",
			zap.String("type", string(report.ChangeType)),
			zap.Float64("percent", report.ChangePercent),
			zap.Int("areas", len(report.ChangeAreas)),
		)
	}
	return report
}

func (m *Monitor) push(g *image.Gray) {
	m.history = append(m.history, g)
	if len(m.history) > m.depth {
		m.history = m.history[len(m.history)-m.depth:]
	}
}

// Compare reports the difference between two frames without touching the
// history.
func (m *Monitor) Compare(a, b image.Image) schemas.ChangeReport {
	return m.compare(toGray(a), toGray(b))
}

func (m *Monitor) compare(prev, cur *image.Gray) schemas.ChangeReport {
	if prev.Bounds().Size() != cur.Bounds().Size() {
		return schemas.ChangeReport{
			Changed:       true,
			ChangePercent: 1,
			ChangeType:    schemas.ChangeNewWindow,
			ChangeAreas:   []schemas.BoundingBox{},
		}
	}

	mask := diffMask(prev, cur)
	total := len(mask.bits)
	if total == 0 {
		return emptyReport()
	}
	percent := float64(mask.count) / float64(total)
	if percent <= m.threshold {
		r := emptyReport()
		r.ChangePercent = percent
		return r
	}
	return schemas.ChangeReport{
		Changed:       true,
		ChangePercent: percent,
		ChangeType:    classify(mask, percent),
		ChangeAreas:   changeAreas(mask),
	}
}

// ChangeSummary describes recent changes for the planner prompt.
func (m *Monitor) ChangeSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastPercent < m.threshold || m.lastPercent == 0 {
		return "No visual change detected."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Change detected: %.1f%% of the screen changed.", m.lastPercent*100)
	if len(m.significant) > 0 {
		sb.WriteString("\nRecent changes:")
		start := max(0, len(m.significant)-recentChanges)
		for _, c := range m.significant[start:] {
			fmt.Fprintf(&sb, "\n  - %s (%.1f%%)", c.kind, c.percent*100)
		}
	}
	return sb.String()
}

// Reset clears frame history and change records.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.significant = nil
	m.lastPercent = 0
}

func emptyReport() schemas.ChangeReport {
	return schemas.ChangeReport{ChangeType: schemas.ChangeNone, ChangeAreas: []schemas.BoundingBox{}}
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// mask is a binary change map in row-major order.
type mask struct {
	w, h  int
	bits  []bool
	count int
}

func (k *mask) at(x, y int) bool { return k.bits[y*k.w+x] }

func diffMask(a, b *image.Gray) *mask {
	size := a.Bounds().Size()
	k := &mask{w: size.X, h: size.Y, bits: make([]bool, size.X*size.Y)}
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			va := int(a.GrayAt(x, y).Y)
			vb := int(b.GrayAt(x, y).Y)
			d := va - vb
			if d < 0 {
				d = -d
			}
			if d > pixelThreshold {
				k.bits[y*k.w+x] = true
				k.count++
			}
		}
	}
	return k
}

func classify(k *mask, percent float64) schemas.ChangeType {
	if isPopup(k) {
		return schemas.ChangePopup
	}
	if percent > newWindowRatio {
		return schemas.ChangeNewWindow
	}
	if percent < stateChangeRatio {
		return schemas.ChangeStateChange
	}
	return schemas.ChangeMinor
}

// isPopup reports whether the central half-by-half region changed by at
// least 20%.
func isPopup(k *mask) bool {
	cy, cx := k.h/2, k.w/2
	y1, y2 := cy-k.h/4, cy+k.h/4
	x1, x2 := cx-k.w/4, cx+k.w/4
	area := (y2 - y1) * (x2 - x1)
	if area <= 0 {
		return false
	}
	changed := 0
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			if k.at(x, y) {
				changed++
			}
		}
	}
	return float64(changed)/float64(area) >= popupCenterRatio
}

// changeAreas returns bounding boxes of 8-connected changed regions whose box
// area exceeds minChangeArea, in scan order.
func changeAreas(k *mask) []schemas.BoundingBox {
	seen := make([]bool, len(k.bits))
	areas := []schemas.BoundingBox{}
	stack := make([]int, 0, 64)

	for start, on := range k.bits {
		if !on || seen[start] {
			continue
		}
		minX, minY := k.w, k.h
		maxX, maxY := -1, -1
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%k.w, idx/k.w
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= k.w || ny >= k.h {
						continue
					}
					n := ny*k.w + nx
					if k.bits[n] && !seen[n] {
						seen[n] = true
						stack = append(stack, n)
					}
				}
			}
		}
		w, h := maxX-minX+1, maxY-minY+1
		if w*h > minChangeArea {
			areas = append(areas, schemas.BoundingBox{X: minX, Y: minY, W: w, H: h})
		}
	}
	return areas
}
