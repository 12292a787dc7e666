// Package sysmetrics samples process CPU and memory usage. Builds attach
// the samples to their progress reports.
package sysmetrics

import (
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Meter reports CPU usage between successive calls.
type Meter struct {
	mu       sync.Mutex
	lastWall time.Time
	lastUser time.Duration
	lastSys  time.Duration
	lastCPU  float64
}

// NewMeter starts measuring from now.
func NewMeter() *Meter {
	utime, stime := rusageTimes()
	return &Meter{lastWall: time.Now(), lastUser: utime, lastSys: stime}
}

// CPUPercent returns the process CPU usage as a percentage (0–100+)
// since the last call. Multi-core processes can exceed 100%.
func (m *Meter) CPUPercent() float64 {
	now := time.Now()
	utime, stime := rusageTimes()

	m.mu.Lock()
	defer m.mu.Unlock()

	wall := now.Sub(m.lastWall)
	if wall <= 0 {
		return m.lastCPU
	}

	cpuDelta := (utime - m.lastUser) + (stime - m.lastSys)
	m.lastCPU = float64(cpuDelta) / float64(wall) * 100.0
	m.lastWall, m.lastUser, m.lastSys = now, utime, stime
	return m.lastCPU
}

// MemoryInuse returns the memory actively in use by the Go runtime, in
// bytes. This is HeapInuse (live heap spans) plus StackInuse (goroutine
// stacks), excluding virtual address space reserved but not committed.
func MemoryInuse() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapInuse + ms.StackInuse)
}

func rusageTimes() (user, sys time.Duration) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, 0
	}
	return time.Duration(ru.Utime.Nano()), time.Duration(ru.Stime.Nano())
}
