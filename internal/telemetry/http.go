package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// HealthCheck reports whether a dependency this process relies on (the
// directory database, the UDP transport socket, ...) is currently healthy.
type HealthCheck func() error

// NewRouter builds the shared control-surface router: /healthz, /metrics,
// /sys, and whatever process-specific routes the mount callback adds.
func NewRouter(log *zap.Logger, metrics *Metrics, checks map[string]HealthCheck, mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", healthzHandler(checks))
	r.Get("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/sys", sysStatsHandler)

	if mount != nil {
		mount(r)
	}
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			log.Debug("http request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

func healthzHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(checks))
		ok := true
		for name, check := range checks {
			if err := check(); err != nil {
				results[name] = err.Error()
				ok = false
				continue
			}
			results[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": ok, "checks": results})
	}
}

// ServerFPS is the process-wide CPU/memory observability payload backing
// ActionServer.GetServerFps (§4.4): the simulation's own tick rate plus host
// resource usage, sampled via gopsutil.
type ServerFPS struct {
	TickRate    float64 `json:"tickRate"`
	CPUPercent  float64 `json:"cpuPercent"`
	MemUsedMB   float64 `json:"memUsedMb"`
	MemTotalMB  float64 `json:"memTotalMb"`
}

// SampleHostStats reads current CPU and memory usage via gopsutil. It does
// not set TickRate — callers fill that in from their own sim loop counter.
func SampleHostStats() (ServerFPS, error) {
	var stats ServerFPS
	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	vm, err := mem.VirtualMemory()
	if err == nil {
		stats.MemUsedMB = float64(vm.Used) / (1024 * 1024)
		stats.MemTotalMB = float64(vm.Total) / (1024 * 1024)
	}
	return stats, nil
}

func sysStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, _ := SampleHostStats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
