package domain

import (
	"context"
	"os"
	"syscall"
	"time"
)

// Worker is the application hook run once per loop iteration.
// It must return promptly; long-blocking work delays signal handling.
// The default SIGCHLD handler reaps every exited child of the process, including
// those a worker starts with os/exec. Override SIGCHLD before Start to wait on them.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc adapts a plain function to Worker.
type WorkerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

// Logger is the leveled, template-interpolating log facility.
// Each method returns false for emerg/alert/crit ("treat as failure") and true otherwise.
type Logger interface {
	Emerg(format string, args ...any) bool
	Alert(format string, args ...any) bool
	Crit(format string, args ...any) bool
	Err(format string, args ...any) bool
	Warning(format string, args ...any) bool
	Notice(format string, args ...any) bool
	Info(format string, args ...any) bool
	Debug(format string, args ...any) bool
}

// ProcessManager handles OS process table operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists in the process table.
	IsRunning(pid int) bool

	// Signal delivers sig to pid.
	Signal(pid int, sig syscall.Signal) error

	// WaitGone polls until pid leaves the process table.
	// Returns false if the process was still present after all attempts.
	WaitGone(ctx context.Context, pid int, interval time.Duration, attempts int) bool

	// Describe returns process name and start time, if available.
	Describe(pid int) (name string, started time.Time, err error)

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// PidFileStore reads and writes the process-identity file.
type PidFileStore interface {
	// Read returns the recorded PID; ok is false when the file is absent.
	Read(path string) (pid int, ok bool, err error)

	// Write validates the location, creates the per-app directory and records pid.
	Write(path string, pid int) error

	// Remove unlinks the pid file.
	Remove(path string) error

	// ValidateLocation checks the path is inside a dedicated per-app directory.
	ValidateLocation(path string) error
}

// Spawner creates the detached worker process.
type Spawner interface {
	// IsChild reports whether the current process is the spawned worker.
	IsChild() bool

	// Spawn starts the worker and returns its PID. Only called in the parent.
	Spawn() (int, error)
}

// IdentityDropper switches the process to an unprivileged identity.
type IdentityDropper interface {
	Drop(uid, gid int) error
}

// SignalSource delivers OS signals to the controller.
type SignalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Ignore(sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

// CommandRunner runs host commands (boot registration tools).
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output string, err error)
}

// PrivilegeChecker reports whether the effective identity is the superuser.
type PrivilegeChecker interface {
	IsRoot() bool
}
