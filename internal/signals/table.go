// Package signals owns the daemon's signal dispatch table. Handlers run in the
// goroutine that calls Wait, so no two handlers ever run concurrently.
package signals

import (
	"errors"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// Handler reacts to one delivered signal.
type Handler func(sig syscall.Signal)

// Hooks connect the default handlers to the lifecycle controller.
type Hooks struct {
	InBackground func() bool
	Die          func()
	Exit         func(code int)
}

// catchable lists the signals considered for the table. Names the host does not
// define resolve to 0 and are dropped. KILL and STOP cannot be caught; synchronous
// faults (SEGV, BUS, FPE, ILL) belong to the Go runtime.
var catchable = []string{
	"SIGHUP", "SIGINT", "SIGQUIT", "SIGTRAP", "SIGABRT", "SIGIOT", "SIGUSR1", "SIGUSR2",
	"SIGPIPE", "SIGALRM", "SIGTERM", "SIGSTKFLT", "SIGCLD", "SIGCHLD", "SIGCONT",
	"SIGTSTP", "SIGTTIN", "SIGTTOU", "SIGURG", "SIGXCPU", "SIGXFSZ", "SIGVTALRM",
	"SIGPROF", "SIGWINCH", "SIGPOLL", "SIGIO", "SIGPWR", "SIGSYS", "SIGEMT", "SIGINFO",
}

// ignoredByDefault are set to SIG_IGN. SIGURG is also used by the runtime for preemption.
var ignoredByDefault = map[string]bool{"SIGPIPE": true, "SIGURG": true}

// SignalSource is the os/signal package.
type SignalSource struct{}

func (SignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (SignalSource) Ignore(sig ...os.Signal)                     { signal.Ignore(sig...) }
func (SignalSource) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

var _ domain.SignalSource = SignalSource{}

// Table maps signal numbers to handlers. A nil handler means ignore.
type Table struct {
	log      domain.Logger
	hooks    Hooks
	handlers map[syscall.Signal]Handler

	source domain.SignalSource
	ch     chan os.Signal
}

// NewTable builds the default table for the running platform.
func NewTable(log domain.Logger, hooks Hooks) *Table {
	t := &Table{
		log:      log,
		hooks:    hooks,
		handlers: make(map[syscall.Signal]Handler),
	}
	for _, name := range catchable {
		sig := unix.SignalNum(name)
		if sig == 0 {
			continue
		}
		if ignoredByDefault[name] {
			t.handlers[sig] = nil
			continue
		}
		t.handlers[sig] = t.defaultHandler
	}
	return t
}

// Names returns the sorted names of every signal in the table.
func (t *Table) Names() []string {
	seen := make(map[string]bool, len(t.handlers))
	names := make([]string, 0, len(t.handlers))
	for sig := range t.handlers {
		name := unix.SignalName(sig)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether sig has an entry.
func (t *Table) Has(sig syscall.Signal) bool {
	_, ok := t.handlers[sig]
	return ok
}

// Override replaces the handler of an existing entry. A nil handler ignores the signal.
func (t *Table) Override(sig syscall.Signal, h Handler) error {
	if !t.Has(sig) {
		err := &domain.UnknownSignalError{Signal: sig, Valid: t.Names()}
		t.log.Notice("Can only overrule one of these signal handlers: " + strings.Join(err.Valid, ", "))
		return err
	}
	t.handlers[sig] = h
	if t.ch != nil {
		t.route(sig, h)
	}
	return nil
}

// Install routes every entry of the table to this process.
func (t *Table) Install(source domain.SignalSource) error {
	if t.ch != nil {
		return errors.New("signal table already installed")
	}
	t.source = source
	t.ch = make(chan os.Signal, 16)
	for sig, h := range t.handlers {
		t.route(sig, h)
	}
	return nil
}

// Uninstall stops delivery to the table.
func (t *Table) Uninstall() {
	if t.ch == nil {
		return
	}
	t.source.Stop(t.ch)
	t.ch = nil
}

func (t *Table) route(sig syscall.Signal, h Handler) {
	if h == nil {
		t.source.Ignore(sig)
		return
	}
	t.source.Notify(t.ch, sig)
}

// Wait sleeps for d or until a signal arrives, then dispatches every pending signal.
// A zero d only drains what is already queued.
func (t *Table) Wait(d time.Duration) {
	if t.ch == nil {
		if d > 0 {
			time.Sleep(d)
		}
		return
	}
	if d > 0 {
		timer := time.NewTimer(d)
		select {
		case s := <-t.ch:
			timer.Stop()
			t.Dispatch(s)
		case <-timer.C:
		}
	}
	for {
		select {
		case s := <-t.ch:
			t.Dispatch(s)
		default:
			return
		}
	}
}

// Dispatch runs the handler registered for s.
func (t *Table) Dispatch(s os.Signal) {
	sig, ok := s.(syscall.Signal)
	if !ok {
		return
	}
	if h := t.handlers[sig]; h != nil {
		h(sig)
	}
}

func (t *Table) defaultHandler(sig syscall.Signal) {
	t.log.Debug("Received signal: %s", int(sig))

	switch sig {
	case unix.SIGTERM, unix.SIGINT:
		if t.hooks.InBackground != nil && t.hooks.InBackground() {
			if t.hooks.Die != nil {
				t.hooks.Die()
			}
			return
		}
		if t.hooks.Exit != nil {
			t.hooks.Exit(0)
		}
	case unix.SIGHUP:
		t.log.Debug("Received signal: restart")
	case unix.SIGCHLD:
		t.log.Debug("Received signal: child")
		reaped := Reap()
		if reaped > 0 {
			t.log.Debug("Reaped %s child processes", reaped)
		}
	}
}

// Reap collects every exited child without blocking and returns how many were reaped.
// It waits on any pid, so a child started with os/exec is reaped too and its
// cmd.Wait then fails with ECHILD. Workers that wait on their own children should
// Override SIGCHLD.
func Reap() int {
	n := 0
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return n
		}
		n++
	}
}

// Available lists the signal names this platform can route to a handler.
func Available() []string {
	return NewTable(nil, Hooks{}).Names()
}
