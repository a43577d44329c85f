package alerts

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// SystemStats is a point-in-time reading of the host-level metrics
// the system-scoped rules evaluate.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Connections   int     `json:"connections"`
}

// StatsSource supplies system statistics for CheckAlerts. Production
// deployments can plug in an agent-backed source; the default reads
// from the Go runtime and /proc.
type StatsSource interface {
	SystemStats(ctx context.Context) (SystemStats, error)
}

// RuntimeStats reads stats from the Go runtime and the kernel. CPU is
// the busy share of aggregate CPU time between consecutive readings of
// /proc/stat, so the first reading and any host without procfs report
// zero. Memory is heap-in-use against the OS-reserved heap, and
// goroutine count stands in for connection count.
type RuntimeStats struct {
	statPath string

	mu        sync.Mutex
	prevBusy  uint64
	prevTotal uint64
	seeded    bool
}

// NewRuntimeStats returns a stats source backed by the Go runtime and
// /proc/stat.
func NewRuntimeStats() *RuntimeStats {
	return &RuntimeStats{statPath: "/proc/stat"}
}

func (r *RuntimeStats) SystemStats(_ context.Context) (SystemStats, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := SystemStats{
		CPUPercent:  r.cpuPercent(),
		Connections: runtime.NumGoroutine(),
	}
	if mem.HeapSys > 0 {
		stats.MemoryPercent = float64(mem.HeapInuse) / float64(mem.HeapSys) * 100
	}
	return stats, nil
}

// cpuPercent derives utilization from the delta between the current
// and previous aggregate cpu line. Unreadable or malformed stat files
// yield zero rather than an error so the remaining checks still run.
func (r *RuntimeStats) cpuPercent() float64 {
	busy, total, ok := readCPUTimes(r.statPath)
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prevBusy, prevTotal, seeded := r.prevBusy, r.prevTotal, r.seeded
	r.prevBusy, r.prevTotal, r.seeded = busy, total, true

	if !seeded || total <= prevTotal || busy < prevBusy {
		return 0
	}
	return float64(busy-prevBusy) / float64(total-prevTotal) * 100
}

// readCPUTimes parses the aggregate "cpu" line of a /proc/stat file
// and returns busy and total jiffies. Idle and iowait count as not
// busy.
func readCPUTimes(path string) (busy, total uint64, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		values := make([]uint64, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return 0, 0, false
			}
			values = append(values, v)
		}
		var idle uint64
		for i, v := range values {
			total += v
			// fields 4 and 5 are idle and iowait
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return total - idle, total, true
	}
	return 0, 0, false
}
