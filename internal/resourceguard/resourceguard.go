// Package resourceguard enforces static resource limits on the writer
// host: goroutine/reader-match admission and periodic CPU/memory sampling.
// Grounded on the teacher's src/resource_guard.go ResourceGuard (static
// configuration, rate limiting, safety-valve checks, no auto-calculation),
// retargeted from WebSocket connection/broadcast admission to matched-reader
// admission and async-send worker goroutine budgeting.
package resourceguard

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
)

// Config holds the guard's static thresholds.
type Config struct {
	MaxMatchedReaders int
	MaxGoroutines     int
	MemoryLimitBytes  int64
	CPURejectPercent  float64
	CPUPausePercent   float64
	SampleInterval    time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxMatchedReaders == 0 {
		c.MaxMatchedReaders = 1024
	}
	if c.MaxGoroutines == 0 {
		c.MaxGoroutines = 10_000
	}
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = 2 << 30 // 2GiB
	}
	if c.CPURejectPercent == 0 {
		c.CPURejectPercent = 90
	}
	if c.CPUPausePercent == 0 {
		c.CPUPausePercent = 75
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = 15 * time.Second
	}
}

// Guard enforces the configured limits against live resource samples.
type Guard struct {
	cfg Config
	log *zap.Logger

	currentCPU    atomic.Value // float64
	currentMemory atomic.Value // int64
	matchedReaders int64        // atomic

	stopCh chan struct{}
}

// New builds a Guard with defaults applied for any zero-valued field.
func New(cfg Config, log *zap.Logger) *Guard {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	g := &Guard{cfg: cfg, log: log, stopCh: make(chan struct{})}
	g.currentCPU.Store(0.0)
	g.currentMemory.Store(int64(0))
	return g
}

// ShouldAcceptMatch reports whether a new reader match should be admitted,
// checking the matched-reader ceiling before the CPU/memory safety valves.
func (g *Guard) ShouldAcceptMatch() (accept bool, reason string) {
	current := atomic.LoadInt64(&g.matchedReaders)
	if current >= int64(g.cfg.MaxMatchedReaders) {
		return false, fmt.Sprintf("at max matched readers (%d)", g.cfg.MaxMatchedReaders)
	}

	currentCPU := g.currentCPU.Load().(float64)
	if currentCPU > g.cfg.CPURejectPercent {
		return false, fmt.Sprintf("CPU %.1f%% > %.1f%%", currentCPU, g.cfg.CPURejectPercent)
	}

	currentMemory := g.currentMemory.Load().(int64)
	if currentMemory > g.cfg.MemoryLimitBytes {
		return false, "memory limit exceeded"
	}

	if n := runtime.NumGoroutine(); n > g.cfg.MaxGoroutines {
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", n, g.cfg.MaxGoroutines)
	}

	return true, "OK"
}

// ShouldPauseSending reports whether the async sender should back off
// draining writers because CPU usage is critically high.
func (g *Guard) ShouldPauseSending() bool {
	return g.currentCPU.Load().(float64) > g.cfg.CPUPausePercent
}

// RecordMatch and RecordUnmatch keep the matched-reader gauge current;
// callers hold this bookkeeping alongside the actual reader registry.
func (g *Guard) RecordMatch()   { atomic.AddInt64(&g.matchedReaders, 1) }
func (g *Guard) RecordUnmatch() { atomic.AddInt64(&g.matchedReaders, -1) }

// UpdateResources samples CPU and memory once. 100ms is short enough not to
// block the sample loop while giving cpu.Percent a real baseline, unlike an
// argless Percent(0, false) call which returns no data on its first use.
func (g *Guard) UpdateResources() {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		g.log.Warn("resourceguard: cpu sample failed", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		g.currentCPU.Store(cpuPercent[0])
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.currentMemory.Store(int64(mem.Alloc))

	g.log.Debug("resourceguard: sampled",
		zap.Float64("cpu_percent", g.currentCPU.Load().(float64)),
		zap.Int64("memory_bytes", g.currentMemory.Load().(int64)),
		zap.Int64("matched_readers", atomic.LoadInt64(&g.matchedReaders)),
	)
}

// Start runs UpdateResources on cfg.SampleInterval until ctx is canceled or
// Stop is called.
func (g *Guard) Start(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SampleInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.UpdateResources()
			case <-g.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the sampling goroutine to exit.
func (g *Guard) Stop() {
	close(g.stopCh)
}
