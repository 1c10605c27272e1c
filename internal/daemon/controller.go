package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
	"github.com/eliteGoblin/sysdaemon/internal/infra"
	"github.com/eliteGoblin/sysdaemon/internal/signals"
)

// Runtime holds the process-level collaborators the controller drives.
// Nil fields are filled with the real implementations by New.
type Runtime struct {
	Pids     domain.PidFileStore
	Procs    domain.ProcessManager
	Spawner  domain.Spawner
	Identity domain.IdentityDropper
	Signals  domain.SignalSource

	Limits func(cfg *config.DaemonConfig) error
	Umask  func(mask int) int
	Chdir  func(dir string) error
	Exit   func(code int)
}

// Controller owns the lifecycle of one daemon inside the current process.
type Controller struct {
	cfg    *config.DaemonConfig
	worker domain.Worker
	log    domain.Logger
	rt     Runtime
	table  *signals.Table

	mu    sync.Mutex
	state domain.ProcessState
}

// NewController binds worker and cfg. rt must be fully populated.
func NewController(cfg *config.DaemonConfig, worker domain.Worker, log domain.Logger, rt Runtime) *Controller {
	c := &Controller{
		cfg:    cfg,
		worker: worker,
		log:    log,
		rt:     rt,
		state:  domain.ProcessState{Phase: domain.PhaseUnstarted},
	}
	c.table = signals.NewTable(log, signals.Hooks{
		InBackground: c.InBackground,
		Die:          func() { c.die(0) },
		Exit:         rt.Exit,
	})
	return c
}

// Signals exposes the dispatch table so handlers can be overridden before Start.
func (c *Controller) Signals() *signals.Table { return c.table }

// State returns a copy of the lifecycle record.
func (c *Controller) State() domain.ProcessState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InBackground reports whether this process is the detached worker.
func (c *Controller) InBackground() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsChild
}

// IsDying reports whether the die sequence has started. It never resets.
func (c *Controller) IsDying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsDying
}

// Start daemonizes. In the parent it returns once the worker has been spawned.
// In the worker it runs the loop and does not return until the loop ends.
func (c *Controller) Start(ctx context.Context) error {
	if c.IsRunning() {
		c.log.Notice("{appName} daemon is already running. Not starting a second instance.")
		return domain.ErrAlreadyRunning
	}
	if c.rt.Spawner.IsChild() {
		return c.runChild(ctx)
	}
	return c.spawn()
}

func (c *Controller) spawn() error {
	dir := filepath.Dir(c.cfg.AppPidLocation)
	if ok, checked, owner := infra.DirWritable(dir); !ok {
		c.log.Emerg("Unable to write pid file {appPidLocation}: %s is not writable (owned by uid %s)", checked, owner)
		return fmt.Errorf("%w: %s is not writable", domain.ErrPidFile, checked)
	}
	// The worker may no longer be root when it writes the pid file.
	if err := infra.MkdirAllOwned(dir, 0o755, c.cfg.UID(), c.cfg.GID()); err != nil {
		c.log.Emerg("Unable to write pid file {appPidLocation}: %s", err)
		return fmt.Errorf("%w: %v", domain.ErrPidFile, err)
	}

	c.log.Info("Starting {appName} daemon")
	c.log.Notice("Log output for {appName} located in: {logLocation}")

	pid, err := c.rt.Spawner.Spawn()
	if err != nil {
		c.log.Err("Process could not be forked: %s", err)
		return fmt.Errorf("%w: %v", domain.ErrForkFailed, err)
	}

	c.mu.Lock()
	c.state.Phase = domain.PhaseForkedParent
	c.state.PID = pid
	c.mu.Unlock()

	c.log.Debug("{appName} daemon spawned with pid %s", pid)
	return nil
}

// runChild moves the worker from Forked to Running and drives the loop.
// Any failure before Running is fatal.
func (c *Controller) runChild(ctx context.Context) error {
	pid := c.rt.Procs.GetCurrentPID()
	c.mu.Lock()
	c.state.Phase = domain.PhaseForkedChild
	c.state.IsChild = true
	c.state.PID = pid
	c.mu.Unlock()

	if err := c.becomeIdentity(); err != nil {
		return err
	}
	if err := c.rt.Limits(c.cfg); err != nil {
		c.log.Warning("Unable to apply system limits: %s", err)
	}
	if err := c.table.Install(c.rt.Signals); err != nil {
		c.log.Emerg("Unable to install signal handlers: %s", err)
		return err
	}

	c.rt.Umask(0)
	if err := c.rt.Pids.Write(c.cfg.AppPidLocation, pid); err != nil {
		c.log.Emerg("Unable to write pid file {appPidLocation}")
		return err
	}
	if err := c.rt.Chdir(c.cfg.AppDir); err != nil {
		c.log.Emerg("Unable to change directory to {appDir}: %s", err)
		return fmt.Errorf("failed to chdir to %s: %w", c.cfg.AppDir, err)
	}

	c.mu.Lock()
	c.state.Phase = domain.PhaseRunning
	c.mu.Unlock()
	c.log.Debug("{appName} daemon running with pid %s", pid)

	c.loop(ctx)
	return nil
}

func (c *Controller) becomeIdentity() error {
	uid, gid := c.cfg.UID(), c.cfg.GID()
	if uid < 0 || gid < 0 {
		return nil
	}
	err := c.rt.Identity.Drop(uid, gid)
	if err == nil {
		return nil
	}
	if c.cfg.AppDieOnIdentityCrisis {
		c.log.Emerg("Unable to run as uid %s gid %s: %s", uid, gid, err)
		return err
	}
	c.log.Warning("Unable to run as uid %s gid %s, continuing as current user: %s", uid, gid, err)
	return nil
}

func (c *Controller) loop(ctx context.Context) {
	for !c.IsDying() && ctx.Err() == nil {
		if err := c.worker.Run(ctx); err != nil {
			c.log.Err("Worker returned an error: %s", err)
		}
		if c.IsDying() || ctx.Err() != nil {
			break
		}
		c.Iterate(-1)
	}
	if !c.IsDying() {
		c.die(0)
	}
}

// Iterate is the loop's suspension point. A negative d sleeps for iterateInterval,
// zero only dispatches queued signals.
func (c *Controller) Iterate(d time.Duration) {
	if d < 0 {
		d = c.cfg.Interval()
	}
	if c.cfg.ReclaimMemory {
		runtime.GC()
	}
	c.table.Wait(d)
}

// die removes our own pid file and exits. It runs at most once.
func (c *Controller) die(code int) {
	c.mu.Lock()
	if c.state.IsDying {
		c.mu.Unlock()
		c.log.Notice("Process already in its death throes, no need to kill it again.")
		return
	}
	c.state.IsDying = true
	c.state.Phase = domain.PhaseDying
	pid := c.state.PID
	c.mu.Unlock()

	if recorded, ok, err := c.rt.Pids.Read(c.cfg.AppPidLocation); err == nil && ok && recorded == pid {
		if err := c.rt.Pids.Remove(c.cfg.AppPidLocation); err != nil {
			c.log.Err("Unable to remove pid file {appPidLocation}: %s", err)
		}
	}
	c.table.Uninstall()

	c.mu.Lock()
	c.state.Phase = domain.PhaseTerminated
	c.mu.Unlock()
	c.rt.Exit(code)
}

// Die runs the die sequence with exit code 1. The logger calls it after an emerg record.
func (c *Controller) Die() { c.die(1) }

// IsRunning reports whether the pid file names a live process. A pid file naming
// a dead process, or holding garbage, is removed.
func (c *Controller) IsRunning() bool {
	_, ok := c.running()
	return ok
}

func (c *Controller) running() (int, bool) {
	path := c.cfg.AppPidLocation
	pid, ok, err := c.rt.Pids.Read(path)
	if err == nil && !ok {
		return 0, false
	}
	if err == nil && c.rt.Procs.IsRunning(pid) {
		return pid, true
	}

	if rmErr := c.rt.Pids.Remove(path); rmErr != nil {
		c.log.Warning("Orphaned pidfile found but unable to remove: {appPidLocation}. Previous process crashed?")
	} else {
		c.log.Warning("Orphaned pidfile found and removed: {appPidLocation}. Previous process crashed?")
	}
	return 0, false
}

// Stop sends SIGTERM to the running daemon and removes its pid file.
// Stopping a daemon that is not running is a logged no-op.
func (c *Controller) Stop() error {
	pid, ok := c.running()
	if !ok {
		c.log.Notice("{appName} daemon not found. Skipping shutdown.")
		return nil
	}

	if err := c.rt.Procs.Signal(pid, unix.SIGTERM); err != nil {
		c.log.Err("Unable to stop {appName} daemon with pid %s: %s", pid, err)
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	if err := c.rt.Pids.Remove(c.cfg.AppPidLocation); err != nil {
		c.log.Err("Unable to remove pid file {appPidLocation}: %s", err)
	}
	c.log.Notice("{appName} daemon with pid %s stopped.", pid)
	return nil
}

// Restart stops the running daemon, waits for its pid to leave the process table
// and starts a new one.
func (c *Controller) Restart(ctx context.Context) error {
	if pid, ok := c.running(); ok {
		if err := c.Stop(); err != nil {
			return err
		}
		interval := time.Duration(c.cfg.RestartPollInterval) * time.Millisecond
		if !c.rt.Procs.WaitGone(ctx, pid, interval, c.cfg.RestartPollAttempts) {
			c.log.Err("{appName} daemon with pid %s is still alive after %s checks. Not restarting.", pid, c.cfg.RestartPollAttempts)
			return domain.ErrRestartTimeout
		}
		c.log.Info("{appName} System Daemon flagged for restart.")
	} else {
		c.log.Info("{appName} daemon not running. Starting it.")
	}
	return c.Start(ctx)
}
