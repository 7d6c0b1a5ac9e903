// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "pilot"

// Metrics holds the pilot's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver, so components can take an optional
// *Metrics without guarding every call.
type Metrics struct {
	registry *prometheus.Registry

	oracleRequests *prometheus.CounterVec
	oracleDuration *prometheus.HistogramVec
	agentSteps     *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	tasks          *prometheus.CounterVec
	skillRuns      *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		oracleRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "oracle_requests_total",
			Help:      "Language model calls by tier and outcome.",
		}, []string{"tier", "status"}),
		oracleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "oracle_request_duration_seconds",
			Help:      "Language model call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"tier"}),
		agentSteps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "agent_steps_total",
			Help:      "Control loop iterations by execution channel.",
		}, []string{"channel"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fallbacks_total",
			Help:      "Fallbacks taken, e.g. fast path to vision.",
		}, []string{"kind"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_total",
			Help:      "Orchestrated tasks by terminal status.",
		}, []string{"status"}),
		skillRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "skill_runs_total",
			Help:      "Skill dispatches by skill and outcome.",
		}, []string{"skill", "status"}),
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordOracleCall counts one language model call.
func (m *Metrics) RecordOracleCall(tier string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.oracleRequests.WithLabelValues(tier, statusOf(err)).Inc()
	m.oracleDuration.WithLabelValues(tier).Observe(d.Seconds())
}

// RecordAgentStep counts a control loop iteration on channel ("fast_path" or "vision").
func (m *Metrics) RecordAgentStep(channel string) {
	if m == nil {
		return
	}
	m.agentSteps.WithLabelValues(channel).Inc()
}

// RecordFallback counts a fallback of the given kind.
func (m *Metrics) RecordFallback(kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind).Inc()
}

// RecordTask counts a finished task.
func (m *Metrics) RecordTask(status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status).Inc()
}

// RecordSkill counts a skill dispatch.
func (m *Metrics) RecordSkill(skill string, success bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "failed"
	}
	m.skillRuns.WithLabelValues(skill, status).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ServeMetrics exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
