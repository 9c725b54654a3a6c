package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"SensitiveDet/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const sampleInterval = 500 * time.Millisecond

// Metrics collects per-run counters. A nil *Metrics is valid and records
// nothing, so callers never need to check.
type Metrics struct {
	registry *prometheus.Registry

	Images           *prometheus.CounterVec
	Detections       *prometheus.CounterVec
	InvalidRecords   prometheus.Counter
	InferenceSeconds prometheus.Histogram
	memUsage         prometheus.Gauge
	cpuUsage         prometheus.Gauge
}

func New(pipeline string) *Metrics {
	labels := prometheus.Labels{"pipeline": pipeline}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "images_total",
			Help:        "Images handled, by outcome",
			ConstLabels: labels,
		}, []string{"status"}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "detections_total",
			Help:        "Regions drawn, by class",
			ConstLabels: labels,
		}, []string{"class"}),
		InvalidRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "invalid_detections_total",
			Help:        "Detection records skipped for a bad bbox",
			ConstLabels: labels,
		}),
		InferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "inference_duration_seconds",
			Help:        "Wall-clock time of one model inference",
			ConstLabels: labels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
	}
	m.registry.MustRegister(m.Images, m.Detections, m.InvalidRecords, m.InferenceSeconds, m.memUsage, m.cpuUsage)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ImageDone(status string) {
	if m == nil {
		return
	}
	m.Images.WithLabelValues(status).Inc()
}

func (m *Metrics) Detected(class string) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(class).Inc()
}

func (m *Metrics) Invalid(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InvalidRecords.Add(float64(n))
}

func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceSeconds.Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// sampleProcess refreshes the memory and CPU gauges for this process.
func (m *Metrics) sampleProcess(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// Serve publishes /metrics on port and samples process usage until ctx is
// done. A port of 0 disables the endpoint.
func (m *Metrics) Serve(ctx context.Context, port int) error {
	if m == nil || port == 0 {
		return nil
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("inspect own process: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Metrics server failed", zap.Int("port", port), zap.Error(err))
		}
	}()
	logger.Log().Info("Serving metrics", zap.Int("port", port))

	go func() {
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
	sample:
		for {
			select {
			case <-ctx.Done():
				break sample
			case <-ticker.C:
				m.sampleProcess(proc)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Log().Warn("Metrics server shutdown", zap.Error(err))
		}
	}()
	return nil
}
