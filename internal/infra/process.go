// Package infra implements infrastructure concerns (process table, pid file, identity, host commands).
package infra

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// ProcessTable implements domain.ProcessManager using gopsutil.
type ProcessTable struct{}

// NewProcessTable creates a new process table view.
func NewProcessTable() domain.ProcessManager {
	return &ProcessTable{}
}

// IsRunning checks if a PID is listed in the host process table.
func (pt *ProcessTable) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		// Fall back to signal 0
		return unix.Kill(pid, 0) == nil
	}
	return exists
}

// Signal delivers sig to pid.
func (pt *ProcessTable) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return os.ErrProcessDone
	}
	return unix.Kill(pid, sig)
}

// WaitGone polls until pid leaves the process table or the attempts run out.
func (pt *ProcessTable) WaitGone(ctx context.Context, pid int, interval time.Duration, attempts int) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		if !pt.IsRunning(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return !pt.IsRunning(pid)
}

// Describe returns the process name and create time.
func (pt *ProcessTable) Describe(pid int) (string, time.Time, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", time.Time{}, err
	}
	name, err := p.Name()
	if err != nil {
		return "", time.Time{}, err
	}
	created, err := p.CreateTime()
	if err != nil {
		return name, time.Time{}, nil
	}
	return name, time.UnixMilli(created), nil
}

// GetCurrentPID returns the current process PID.
func (pt *ProcessTable) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessTable implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessTable)(nil)
