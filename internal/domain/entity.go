// Package domain contains core daemon entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity is a syslog-style log level. Lower is more severe.
type Severity int

const (
	SevEmerg Severity = iota
	SevAlert
	SevCrit
	SevErr
	SevWarning
	SevNotice
	SevInfo
	SevDebug
)

var severityNames = [...]string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}

// String returns the syslog name of the severity.
func (s Severity) String() string {
	if s < SevEmerg || s > SevDebug {
		return fmt.Sprintf("level(%d)", int(s))
	}
	return severityNames[s]
}

// Valid reports whether s is one of the eight defined severities.
func (s Severity) Valid() bool {
	return s >= SevEmerg && s <= SevDebug
}

// ParseSeverity converts a syslog level name (case-insensitive) to a Severity.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// Phase is a lifecycle phase of a daemon process.
type Phase string

const (
	PhaseUnstarted    Phase = "unstarted"
	PhaseForkedParent Phase = "forked-parent"
	PhaseForkedChild  Phase = "forked-child"
	PhaseRunning      Phase = "running"
	PhaseDying        Phase = "dying"
	PhaseTerminated   Phase = "terminated"
)

// ProcessState is the in-memory lifecycle record of the current process.
// It is never serialized; only the PID crosses the process boundary.
type ProcessState struct {
	Phase   Phase
	PID     int
	IsChild bool
	IsDying bool
}

// Daemon describes a daemon instance as observed from outside (status command).
type Daemon struct {
	Name      string
	PID       int
	Running   bool
	Command   string    // process name from the process table, if known
	StartedAt time.Time // process create time, if known
	PidFile   string
	LogFile   string
}

// InstallResult is the outcome of writing a startup script.
type InstallResult struct {
	Path             string
	AlreadyInstalled bool
}
