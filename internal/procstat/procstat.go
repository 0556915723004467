// Package procstat samples resource usage of running worker processes.
package procstat

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// Usage is one sample of a worker process and its children.
type Usage struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Children   int     `json:"children"`
	Uptime     string  `json:"uptime,omitempty"`
}

// ErrNoProcess is returned when pid does not name a live process.
var ErrNoProcess = errors.New("process not running")

// Sample reads CPU, resident memory and child count for pid. Memory and CPU
// of direct children are included because workers often fork helpers.
func Sample(ctx context.Context, pid int) (Usage, error) {
	if pid <= 0 {
		return Usage{}, errors.Wrapf(ErrNoProcess, "pid %d", pid)
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, errors.Wrapf(ErrNoProcess, "pid %d: %v", pid, err)
	}

	usage := Usage{PID: pid}
	if err := addProcess(ctx, proc, &usage); err != nil {
		return Usage{}, err
	}
	if created, err := proc.CreateTimeWithContext(ctx); err == nil && created > 0 {
		usage.Uptime = time.Since(time.UnixMilli(created)).Truncate(time.Second).String()
	}

	children, err := proc.ChildrenWithContext(ctx)
	if err != nil && !errors.Is(err, process.ErrorNoChildren) {
		return usage, nil
	}
	for _, child := range children {
		// Children may exit between listing and sampling.
		if addProcess(ctx, child, &usage) == nil {
			usage.Children++
		}
	}
	return usage, nil
}

func addProcess(ctx context.Context, proc *process.Process, usage *Usage) error {
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("memory info for pid %d: %w", proc.Pid, err)
	}
	usage.RSSBytes += mem.RSS
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		usage.CPUPercent += cpu
	}
	return nil
}

// SampleAll samples each pid, skipping those that already exited.
func SampleAll(ctx context.Context, pids []int) map[int]Usage {
	out := make(map[int]Usage, len(pids))
	for _, pid := range pids {
		if usage, err := Sample(ctx, pid); err == nil {
			out[pid] = usage
		}
	}
	return out
}
