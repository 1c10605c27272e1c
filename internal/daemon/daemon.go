// Package daemon turns a worker into a detached Unix daemon: pid file, signal table,
// identity drop and the start/stop/restart entry points.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
	"github.com/eliteGoblin/sysdaemon/internal/infra"
	"github.com/eliteGoblin/sysdaemon/internal/logging"
	"github.com/eliteGoblin/sysdaemon/internal/signals"
	"github.com/eliteGoblin/sysdaemon/internal/startup"
)

// Deps overrides collaborators of a Daemon. The zero value uses the real system.
type Deps struct {
	Runtime
	Logger *logging.Logger
	Host   *startup.Host
	// SpawnArgs are the arguments the worker is re-executed with.
	SpawnArgs []string
}

// Daemon is the caller-facing handle for one configured daemon.
type Daemon struct {
	cfg  *config.DaemonConfig
	log  *logging.Logger
	host *startup.Host
	ctrl *Controller
}

// New validates cfg and binds worker to it. Nothing on the host is touched.
func New(cfg *config.DaemonConfig, worker domain.Worker, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", domain.ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if worker == nil {
		worker = IdleWorker
	}

	log := deps.Logger
	if log == nil {
		log = logging.New(cfg, logging.Options{})
	}
	host := deps.Host
	if host == nil {
		host = startup.SystemHost()
	}

	rt := deps.Runtime
	if rt.Pids == nil {
		rt.Pids = infra.NewPidFileManager(cfg, log)
	}
	if rt.Procs == nil {
		rt.Procs = infra.NewProcessTable()
	}
	if rt.Spawner == nil {
		rt.Spawner = NewExecSpawner(cfg.AppName, "", deps.SpawnArgs)
	}
	if rt.Identity == nil {
		rt.Identity = infra.PosixIdentity{}
	}
	if rt.Signals == nil {
		rt.Signals = signals.SignalSource{}
	}
	if rt.Limits == nil {
		rt.Limits = infra.ApplyLimits
	}
	if rt.Umask == nil {
		rt.Umask = unix.Umask
	}
	if rt.Chdir == nil {
		rt.Chdir = os.Chdir
	}
	if rt.Exit == nil {
		rt.Exit = os.Exit
	}

	ctrl := NewController(cfg, worker, log, rt)
	log.SetBackground(ctrl.InBackground)
	log.SetEmergencyHook(ctrl.Die)

	return &Daemon{cfg: cfg, log: log, host: host, ctrl: ctrl}, nil
}

// Config returns the bound configuration.
func (d *Daemon) Config() *config.DaemonConfig { return d.cfg }

// Logger returns the daemon log.
func (d *Daemon) Logger() *logging.Logger { return d.log }

// Signals returns the dispatch table. Override entries before Start.
func (d *Daemon) Signals() *signals.Table { return d.ctrl.Signals() }

// Start daemonizes. See Controller.Start.
func (d *Daemon) Start(ctx context.Context) error { return d.ctrl.Start(ctx) }

// Stop terminates the running daemon, if any.
func (d *Daemon) Stop() error { return d.ctrl.Stop() }

// Restart stops the running daemon and starts a new one.
func (d *Daemon) Restart(ctx context.Context) error { return d.ctrl.Restart(ctx) }

// Iterate is the worker loop's suspension point.
func (d *Daemon) Iterate(sleep time.Duration) { d.ctrl.Iterate(sleep) }

// IsRunning reports whether a live daemon owns the pid file. A dying process
// never counts itself as running.
func (d *Daemon) IsRunning() bool {
	return !d.ctrl.IsDying() && d.ctrl.IsRunning()
}

// State returns this process's lifecycle record.
func (d *Daemon) State() domain.ProcessState { return d.ctrl.State() }

// IsDying reports whether this process has begun to shut down.
func (d *Daemon) IsDying() bool { return d.ctrl.IsDying() }

// Status describes the daemon as seen from outside.
func (d *Daemon) Status() domain.Daemon {
	st := domain.Daemon{
		Name:    d.cfg.AppName,
		PidFile: d.cfg.AppPidLocation,
		LogFile: d.cfg.LogLocation,
	}
	pid, ok := d.ctrl.running()
	if !ok {
		return st
	}
	st.PID, st.Running = pid, true
	if name, started, err := d.ctrl.rt.Procs.Describe(pid); err == nil {
		st.Command, st.StartedAt = name, started
	}
	return st
}

// WriteAutoRun installs the startup script for this host and registers it with
// the init system. It returns false when anything went wrong.
func (d *Daemon) WriteAutoRun(ctx context.Context, overwrite bool) bool {
	drv, ok := d.driver()
	if !ok {
		return false
	}

	res, err := drv.Install(ctx, d.cfg, overwrite)
	if err != nil {
		return d.logStartupError(err, "Unable to create startup file.")
	}
	if res.AlreadyInstalled {
		return d.log.Notice("Startup script has already been written.")
	}
	d.log.Notice("Startup written to %s", res.Path)

	if err := drv.AddToBoot(ctx, d.cfg); err != nil {
		return d.logStartupError(err, "Unable to add startup file to boot script")
	}
	return d.log.Notice("Startup was added to the boot script.")
}

// DeleteAutoRun unregisters and removes the startup script.
func (d *Daemon) DeleteAutoRun(ctx context.Context) bool {
	drv, ok := d.driver()
	if !ok {
		return false
	}

	switch err := drv.RemoveFromBoot(ctx, d.cfg); {
	case errors.Is(err, domain.ErrUnsupportedOS):
		d.log.Debug("No boot registration to remove: %s", err)
	case err != nil:
		return d.logStartupError(err, "Unable to remove startup file from boot script")
	default:
		d.log.Notice("Startup file was removed from the boot script.")
	}

	if err := drv.Uninstall(ctx, d.cfg); err != nil {
		return d.logStartupError(err, "Unable to remove startup file.")
	}
	return d.log.Notice("Startup file has been removed.")
}

func (d *Daemon) driver() (startup.Driver, bool) {
	if !d.host.Privilege.IsRoot() {
		return nil, d.log.Crit("This command requires root privileges.")
	}
	drv, err := startup.Select(d.host)
	if err != nil {
		d.log.Info("Unable to initialize OS object, operating system may be unsupported. %s", err)
		return nil, false
	}
	return drv, true
}

func (d *Daemon) logStartupError(err error, msg string) bool {
	if errors.Is(err, domain.ErrPrivilege) {
		return d.log.Crit("This command requires root privileges.")
	}
	d.log.Warning(msg+" %s", err)
	return false
}

// Close releases the log file.
func (d *Daemon) Close() error { return d.log.Close() }
