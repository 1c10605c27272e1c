package infra

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// ExecMode tells whether the process acts on the system (root) or only as a user.
type ExecMode string

const (
	// ExecModeUser runs without superuser rights: lifecycle only, no startup scripts.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root: may install startup scripts and drop identity.
	ExecModeSystem ExecMode = "system"
)

// ExecContext holds facts about how the current process was invoked.
type ExecContext struct {
	Mode        ExecMode
	IsRoot      bool
	Interactive bool   // stdout is a terminal
	SudoUser    string // invoking user when run under sudo
}

// DetectExecContext determines the execution mode based on effective UID.
func DetectExecContext() *ExecContext {
	isRoot := os.Geteuid() == 0
	mode := ExecModeUser
	if isRoot {
		mode = ExecModeSystem
	}
	fd := os.Stdout.Fd()
	return &ExecContext{
		Mode:        mode,
		IsRoot:      isRoot,
		Interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		SudoUser:    os.Getenv("SUDO_USER"),
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// Summary describes the mode for status output, naming the sudo caller if any.
func (c *ExecContext) Summary() string {
	if c.SudoUser != "" {
		return c.Mode.String() + " via sudo by " + c.SudoUser
	}
	return c.Mode.String()
}

// RootChecker implements domain.PrivilegeChecker on the effective uid.
type RootChecker struct{}

func (RootChecker) IsRoot() bool { return os.Geteuid() == 0 }

var _ domain.PrivilegeChecker = RootChecker{}

// KernelName returns the uname sysname, e.g. "Linux" or "Darwin".
func KernelName() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Sysname[:])
}

// ExecRunner runs host commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and returns its combined, trimmed output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

var _ domain.CommandRunner = ExecRunner{}
