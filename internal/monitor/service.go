// Package monitor samples host and process health for the health endpoint.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
)

const snapshotCacheTTL = 2 * time.Second

// Snapshot is one health sample.
type Snapshot struct {
	CPUUsage    float64   `json:"cpu_usage"`
	CPUCores    int       `json:"cpu_cores"`
	LoadAverage []float64 `json:"load_average,omitempty"`

	MemoryRSSBytes uint64 `json:"memory_rss_bytes"`
	Goroutines     int    `json:"goroutines"`

	Platform      string `json:"platform"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TimestampMs   int64  `json:"timestamp_ms"`
}

// Service collects snapshots with a short cache so the health endpoint stays
// cheap under polling.
type Service struct {
	log       *slog.Logger
	startedAt time.Time

	mu      sync.Mutex
	hasSnap bool
	snapAt  time.Time
	snap    Snapshot
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, startedAt: time.Now()}
}

func (s *Service) Snapshot(ctx context.Context) Snapshot {
	if s == nil {
		return Snapshot{}
	}
	now := time.Now()

	s.mu.Lock()
	if s.hasSnap && now.Sub(s.snapAt) < snapshotCacheTTL {
		out := s.snap
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	snap := s.collect(ctx)

	s.mu.Lock()
	s.snap = snap
	s.snapAt = now
	s.hasSnap = true
	s.mu.Unlock()

	return snap
}

func (s *Service) collect(ctx context.Context) Snapshot {
	collectedAt := time.Now()
	snap := Snapshot{
		Platform:      runtime.GOOS,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(collectedAt.Sub(s.startedAt).Seconds()),
		TimestampMs:   collectedAt.UnixMilli(),
	}

	if usage, err := readCPUUsage(ctx); err == nil {
		snap.CPUUsage = usage
	} else {
		s.log.Debug("monitor: cpu percent failed", "error", err)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCores = cores
	} else {
		s.log.Debug("monitor: cpu cores failed", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		snap.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else if err != nil {
		s.log.Debug("monitor: load average failed", "error", err)
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			snap.MemoryRSSBytes = memInfo.RSS
		}
	}

	return snap
}

// readCPUUsage prefers non-blocking sampling (diff from the last call) and
// per-CPU sampling, which avoids 0% results from coarse aggregated tick
// updates on some platforms.
func readCPUUsage(ctx context.Context) (float64, error) {
	var errs []error

	if p, err := cpu.PercentWithContext(ctx, 0, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	// Fallback: a short blocking interval bootstraps the sampler state.
	if p, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, fmt.Errorf("cpu percent unavailable")
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
