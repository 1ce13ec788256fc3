package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/crimson-sun/failcast/internal/model"
)

const (
	cpuSampleInterval  = 100 * time.Millisecond
	defaultTemperature = 50.0
)

// temperature sensor key prefixes, in preference order.
var cpuSensorPrefixes = []string{"coretemp", "k10temp", "cpu"}

func init() {
	Register("host", func(cfg SourceConfig) (Source, error) {
		return NewHostSource(cfg.DiskPath), nil
	})
}

// HostSource reads the local machine's metrics through gopsutil.
//
// errors is the number of network interface errors since the previous read
// and response_time is how long the read itself took, in milliseconds.
type HostSource struct {
	diskPath string

	mu         sync.Mutex
	lastErrors uint64
	primed     bool
}

// NewHostSource creates a HostSource reporting disk usage for diskPath
// ("/" when empty).
func NewHostSource(diskPath string) *HostSource {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSource{diskPath: diskPath}
}

// Read samples every metric. Any hard failure fails the whole row; a
// missing temperature sensor falls back to a fixed reading.
func (h *HostSource) Read(ctx context.Context) (model.FeatureVector, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var v model.FeatureVector
	start := time.Now()

	cpuPct, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return v, fmt.Errorf("cpu: %w", err)
	}
	if len(cpuPct) == 0 {
		return v, fmt.Errorf("cpu: no reading")
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return v, fmt.Errorf("memory: %w", err)
	}

	du, err := disk.UsageWithContext(ctx, h.diskPath)
	if err != nil {
		return v, fmt.Errorf("disk %s: %w", h.diskPath, err)
	}

	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return v, fmt.Errorf("network: %w", err)
	}
	var sent, netErrors uint64
	if len(counters) > 0 {
		sent = counters[0].BytesSent
		netErrors = counters[0].Errin + counters[0].Errout
	}

	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return v, fmt.Errorf("uptime: %w", err)
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return v, fmt.Errorf("processes: %w", err)
	}
	var threads int64
	for _, p := range procs {
		// Processes may exit mid-scan.
		if n, err := p.NumThreadsWithContext(ctx); err == nil {
			threads += int64(n)
		}
	}

	v[0] = cpuPct[0]
	v[1] = vm.UsedPercent
	v[2] = du.UsedPercent
	v[3] = temperature(ctx)
	v[4] = float64(h.errorDelta(netErrors))
	v[5] = float64(time.Since(start).Microseconds()) / 1000
	v[6] = float64(sent) / 1024
	v[7] = float64(uptime)
	v[8] = float64(len(procs))
	v[9] = float64(threads)
	return v, nil
}

func (h *HostSource) errorDelta(total uint64) uint64 {
	defer func() {
		h.lastErrors = total
		h.primed = true
	}()
	if !h.primed || total < h.lastErrors {
		return 0
	}
	return total - h.lastErrors
}

// temperature returns the first CPU sensor reading, or defaultTemperature.
// gopsutil may return partial readings together with a warning error.
func temperature(ctx context.Context) float64 {
	temps, _ := host.SensorsTemperaturesWithContext(ctx)
	for _, prefix := range cpuSensorPrefixes {
		for _, t := range temps {
			if strings.HasPrefix(strings.ToLower(t.SensorKey), prefix) && t.Temperature > 0 {
				return t.Temperature
			}
		}
	}
	return defaultTemperature
}
