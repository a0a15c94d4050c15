// Package metrics 结算服务的 Prometheus 指标，注册在独立的 Registry 上
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cowsolver"

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	IntentsSubmitted  prometheus.Counter
	IntentsRejected   *prometheus.CounterVec
	IntentsEvicted    prometheus.Counter
	IntakeDepth       prometheus.Gauge
	Triggers          *prometheus.CounterVec
	SettleDuration    prometheus.Histogram
	BatchesSettled    prometheus.Counter
	ParticipantsPaid  prometheus.Counter
	NetVolume         prometheus.Counter
	FeeWithdrawals    prometheus.Counter
	RecordsPublishErr prometheus.Counter
}

// New 创建并注册指标
func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{"service": serviceName}
	f := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help, ConstLabels: constLabels}
	}

	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(f("http_requests_total", "Total HTTP requests"),
			[]string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds",
			ConstLabels: constLabels, Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		IntentsSubmitted: prometheus.NewCounter(f("intents_submitted_total", "Intents accepted into the intake slot")),
		IntentsRejected:  prometheus.NewCounterVec(f("intents_rejected_total", "Intents rejected at submission"), []string{"reason"}),
		IntentsEvicted:   prometheus.NewCounter(f("intents_evicted_total", "Expired intents evicted from intake")),
		IntakeDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "intake_depth", Help: "Intents waiting in the intake slot", ConstLabels: constLabels,
		}),
		Triggers: prometheus.NewCounterVec(f("triggers_total", "Trigger calls by outcome"), []string{"outcome"}),
		SettleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "settle_duration_seconds", Help: "Settlement latency per trigger",
			ConstLabels: constLabels, Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		BatchesSettled:    prometheus.NewCounter(f("batches_settled_total", "Batches settled")),
		ParticipantsPaid:  prometheus.NewCounter(f("participants_paid_total", "Individually paid-out intents")),
		NetVolume:         prometheus.NewCounter(f("net_volume_total", "Residual volume routed to venues, in base units")),
		FeeWithdrawals:    prometheus.NewCounter(f("fee_withdrawals_total", "Non-empty fee withdrawals")),
		RecordsPublishErr: prometheus.NewCounter(f("records_publish_errors_total", "Settlement records that failed to publish")),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.IntentsSubmitted, m.IntentsRejected, m.IntentsEvicted, m.IntakeDepth,
		m.Triggers, m.SettleDuration, m.BatchesSettled, m.ParticipantsPaid, m.NetVolume,
		m.FeeWithdrawals, m.RecordsPublishErr,
	)
	return m
}

// Registry 底层 Registry，测试使用
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 暴露指标的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Serve 在 port 上暴露指标直到 ctx 结束
func (m *Metrics) Serve(ctx context.Context, port int, path string, logger *slog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server starting", "addr", srv.Addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
