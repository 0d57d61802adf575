// Package report turns agent statistics into log lines, summary files,
// prometheus metrics and host load samples.
package report

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// HostLoad is one sample of the load the agent puts on its own host
type HostLoad struct {
	Timestamp          time.Time `json:"timestamp"`
	CPUUsagePercent    float64   `json:"cpu_usage_percent"`
	MemoryUsageBytes   uint64    `json:"memory_usage_bytes"`
	MemoryUsagePercent float64   `json:"memory_usage_percent"`
	NetworkIO          NetworkIO `json:"network_io"`
	OpenFiles          int32     `json:"open_files"`
	Threads            int32     `json:"threads"`
}

// NetworkIO holds the host-wide network counters
type NetworkIO struct {
	BytesReceived   uint64 `json:"bytes_received"`
	BytesSent       uint64 `json:"bytes_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	PacketsSent     uint64 `json:"packets_sent"`
}

// Sampler reads host load through gopsutil. Metrics that cannot be read on
// the current platform are logged and left at zero.
type Sampler struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu           sync.Mutex
	lastCPUStats []cpu.TimesStat
	lastCPUTime  time.Time
}

// NewSampler creates a host load sampler
func NewSampler(clk clock.Clock, logger zerolog.Logger) *Sampler {
	if clk == nil {
		clk = clock.New()
	}
	return &Sampler{
		clock:  clk,
		logger: logger.With().Str("component", "hostload").Logger(),
	}
}

// Sample collects one data point. The first CPU reading only primes the
// delta and reports zero.
func (s *Sampler) Sample(ctx context.Context) HostLoad {
	load := HostLoad{Timestamp: s.clock.Now()}

	cpuUsage, err := s.cpuUsage(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to get CPU usage")
	} else {
		load.CPUUsagePercent = cpuUsage
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to get memory info")
	} else {
		load.MemoryUsageBytes = memInfo.Used
		load.MemoryUsagePercent = memInfo.UsedPercent
	}

	netStats, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to get network stats")
	} else if len(netStats) > 0 {
		load.NetworkIO = NetworkIO{
			BytesReceived:   netStats[0].BytesRecv,
			BytesSent:       netStats[0].BytesSent,
			PacketsReceived: netStats[0].PacketsRecv,
			PacketsSent:     netStats[0].PacketsSent,
		}
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to inspect agent process")
		return load
	}
	if fds, err := proc.NumFDsWithContext(ctx); err == nil {
		load.OpenFiles = fds
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		load.Threads = threads
	}

	return load
}

// cpuUsage calculates CPU usage percentage from the change of the aggregated
// CPU times since the previous call
func (s *Sampler) cpuUsage(ctx context.Context) (float64, error) {
	currentStats, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return 0, err
	}
	currentTime := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	lastStats, lastTime := s.lastCPUStats, s.lastCPUTime
	s.lastCPUStats, s.lastCPUTime = currentStats, currentTime

	if len(lastStats) == 0 || len(currentStats) == 0 {
		return 0, nil
	}
	if currentTime.Sub(lastTime) <= 0 {
		return 0, nil
	}

	return busyPercent(lastStats[0], currentStats[0]), nil
}

func busyPercent(last, current cpu.TimesStat) float64 {
	totalDelta := totalTime(current) - totalTime(last)
	if totalDelta <= 0 {
		return 0
	}
	idleDelta := current.Idle - last.Idle

	usage := (1.0 - idleDelta/totalDelta) * 100.0
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}

func totalTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal + t.Idle
}
