package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// ChildEnv marks the re-executed worker process. Its value is the app name.
const ChildEnv = "SYSDAEMON_CHILD"

// ExecSpawner detaches the daemon by re-executing the current binary in a new session.
type ExecSpawner struct {
	appName    string
	executable string
	args       []string
}

// NewExecSpawner creates a spawner that runs `executable args...` as the worker.
// An empty executable means the running binary.
func NewExecSpawner(appName, executable string, args []string) *ExecSpawner {
	return &ExecSpawner{appName: appName, executable: executable, args: args}
}

// IsChild reports whether this process was spawned as the worker for appName.
func (s *ExecSpawner) IsChild() bool {
	return os.Getenv(ChildEnv) == s.appName
}

// Spawn starts the detached worker and returns its PID.
func (s *ExecSpawner) Spawn() (int, error) {
	executable := s.executable
	if executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("failed to resolve executable: %w", err)
		}
		executable = exe
	}

	cmd := exec.Command(executable, s.args...)
	cmd.Env = append(os.Environ(), ChildEnv+"="+s.appName)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap the worker if this process outlives it.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

var _ domain.Spawner = (*ExecSpawner)(nil)
