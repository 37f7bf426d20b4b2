package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spoofdet_memory_usage_megabytes",
		Help: "Resident memory of the server process in megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spoofdet_cpu_usage_percent",
		Help: "CPU usage of the server process in percent",
	})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spoofdet_requests_total",
		Help: "Requests processed, by transport, operation and status",
	}, []string{"transport", "op", "status"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spoofdet_request_duration_seconds",
		Help:    "Request latency by transport and operation",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"transport", "op"})

	ActiveEngines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spoofdet_active_engines",
		Help: "Engines currently registered",
	})

	FacesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spoofdet_faces_detected_total",
		Help: "Faces returned by detection calls",
	})

	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spoofdet_stream_frames_dropped_total",
		Help: "Streamed frames skipped because the previous frame was still in flight",
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, RequestsTotal, RequestDuration, ActiveEngines, FacesDetected, FramesDropped)
}

// Observe records one finished request.
func Observe(transport, op string, start time.Time, err error) {
	RequestsTotal.WithLabelValues(transport, op, iface.StatusOf(err).String()).Inc()
	RequestDuration.WithLabelValues(transport, op).Observe(time.Since(start).Seconds())
}

// Handler serves the metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

type procStats struct {
	proc *process.Process
}

func newProcStats() (*procStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &procStats{proc: p}, nil
}

func (s *procStats) sample() {
	if mem, err := s.proc.MemoryInfo(); err == nil {
		memUsage.Set(float64(mem.RSS / 1024 / 1024))
	}
	if pct, err := s.proc.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(pct*100) / 100)
	}
}

// StartMon serves /metrics on port and samples process stats until ctx is
// cancelled.
func StartMon(ctx context.Context, port int) error {
	stats, err := newProcStats()
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Log().Info("metrics server listening", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		case <-ticker.C:
			stats.sample()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
