package domain

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

var (
	ErrConfigInvalid      = errors.New("invalid daemon configuration")
	ErrAlreadyRunning     = errors.New("daemon is already running")
	ErrForkFailed         = errors.New("unable to spawn daemon process")
	ErrIdentityDropFailed = errors.New("unable to assume configured identity")
	ErrPidFile            = errors.New("pid file error")
	ErrUnknownSignal      = errors.New("unknown signal")
	ErrUnsupportedOS      = errors.New("unsupported operating system")
	ErrStartupScript      = errors.New("startup script error")
	ErrLogWriteFailed     = errors.New("unable to write log file")

	// Refinements of ErrStartupScript.
	ErrPrivilege    = fmt.Errorf("%w: this command requires root privileges", ErrStartupScript)
	ErrMissingToken = fmt.Errorf("%w: template references an undefined token", ErrStartupScript)

	ErrRestartTimeout = errors.New("previous daemon process did not exit in time")
)

// UnknownSignalError is returned when overriding a signal that has no entry in the dispatch table.
type UnknownSignalError struct {
	Signal syscall.Signal
	Valid  []string
}

func (e *UnknownSignalError) Error() string {
	return fmt.Sprintf("unknown signal %d: can only override one of: %s", int(e.Signal), strings.Join(e.Valid, ", "))
}

// Is makes errors.Is(err, ErrUnknownSignal) hold.
func (e *UnknownSignalError) Is(target error) bool {
	return target == ErrUnknownSignal
}
