package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
	"github.com/eliteGoblin/sysdaemon/internal/infra"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) add(level, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+": "+fmt.Sprintf(format, args...))
}

func (r *recordingLogger) Emerg(f string, a ...any) bool   { r.add("emerg", f, a...); return false }
func (r *recordingLogger) Alert(f string, a ...any) bool   { r.add("alert", f, a...); return false }
func (r *recordingLogger) Crit(f string, a ...any) bool    { r.add("crit", f, a...); return false }
func (r *recordingLogger) Err(f string, a ...any) bool     { r.add("err", f, a...); return true }
func (r *recordingLogger) Warning(f string, a ...any) bool { r.add("warning", f, a...); return true }
func (r *recordingLogger) Notice(f string, a ...any) bool  { r.add("notice", f, a...); return true }
func (r *recordingLogger) Info(f string, a ...any) bool    { r.add("info", f, a...); return true }
func (r *recordingLogger) Debug(f string, a ...any) bool   { r.add("debug", f, a...); return true }

// has reports whether a line at level starts with prefix.
func (r *recordingLogger) has(level, prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.HasPrefix(l, level+": "+prefix) {
			return true
		}
	}
	return false
}

type fakeSpawner struct {
	child   bool
	pid     int
	err     error
	spawned int
}

func (f *fakeSpawner) IsChild() bool { return f.child }

func (f *fakeSpawner) Spawn() (int, error) {
	f.spawned++
	return f.pid, f.err
}

// fakeProcs is a process table where only pids in alive exist.
type fakeProcs struct {
	mu       sync.Mutex
	current  int
	alive    map[int]bool
	signaled []int
	// lingers keeps a signaled pid alive.
	lingers   bool
	signalErr error
}

func newFakeProcs(current int, alive ...int) *fakeProcs {
	p := &fakeProcs{current: current, alive: map[int]bool{}}
	for _, pid := range alive {
		p.alive[pid] = true
	}
	return p
}

func (f *fakeProcs) IsRunning(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeProcs) Signal(pid int, _ syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signalErr != nil {
		return f.signalErr
	}
	f.signaled = append(f.signaled, pid)
	if !f.lingers {
		delete(f.alive, pid)
	}
	return nil
}

func (f *fakeProcs) WaitGone(_ context.Context, pid int, _ time.Duration, _ int) bool {
	return !f.IsRunning(pid)
}

func (f *fakeProcs) Describe(pid int) (string, time.Time, error) {
	if !f.IsRunning(pid) {
		return "", time.Time{}, fmt.Errorf("no such process %d", pid)
	}
	return "sysdaemon", time.Unix(1700000000, 0), nil
}

func (f *fakeProcs) GetCurrentPID() int { return f.current }

type fakeIdentity struct {
	err     error
	dropped bool
}

func (f *fakeIdentity) Drop(int, int) error {
	f.dropped = true
	return f.err
}

// fakeSource captures the channel the table listens on.
type fakeSource struct {
	mu sync.Mutex
	ch chan<- os.Signal
}

func (f *fakeSource) Notify(c chan<- os.Signal, _ ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = c
}

func (f *fakeSource) Ignore(...os.Signal)   {}
func (f *fakeSource) Stop(chan<- os.Signal) {}

func (f *fakeSource) send(sig os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch <- sig
}

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func testConfig(t *testing.T) *config.DaemonConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default("worker1")
	uid, gid := os.Getuid(), os.Getgid()
	cfg.AppRunAsUID, cfg.AppRunAsGID = &uid, &gid
	cfg.AppDir = dir
	cfg.AppPidLocation = filepath.Join(dir, "run", "worker1", "worker1.pid")
	cfg.LogLocation = filepath.Join(dir, "log", "worker1.log")
	cfg.IterateInterval = 0
	cfg.ReclaimMemory = false
	cfg.RestartPollInterval = 1
	cfg.RestartPollAttempts = 3
	return &cfg
}

// harness is a controller wired to fakes and a real pid file manager.
type harness struct {
	cfg      *config.DaemonConfig
	log      *recordingLogger
	pids     *infra.PidFileManager
	procs    *fakeProcs
	spawner  *fakeSpawner
	identity *fakeIdentity
	source   *fakeSource
	exits    *exitRecorder
	chdirs   []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return harnessFor(testConfig(t))
}

func harnessFor(cfg *config.DaemonConfig) *harness {
	log := &recordingLogger{}
	return &harness{
		cfg:      cfg,
		log:      log,
		pids:     infra.NewPidFileManager(cfg, log),
		procs:    newFakeProcs(os.Getpid(), os.Getpid()),
		spawner:  &fakeSpawner{pid: 4321},
		identity: &fakeIdentity{},
		source:   &fakeSource{},
		exits:    &exitRecorder{},
	}
}

func (h *harness) runtime() Runtime {
	return Runtime{
		Pids:     h.pids,
		Procs:    h.procs,
		Spawner:  h.spawner,
		Identity: h.identity,
		Signals:  h.source,
		Limits:   func(*config.DaemonConfig) error { return nil },
		Umask:    func(int) int { return 0o022 },
		Chdir: func(dir string) error {
			h.chdirs = append(h.chdirs, dir)
			return nil
		},
		Exit: h.exits.exit,
	}
}

func (h *harness) controller(worker func(ctx context.Context) error) *Controller {
	return NewController(h.cfg, workerFunc(worker), h.log, h.runtime())
}

// writePid records pid as the running daemon.
func (h *harness) writePid(t *testing.T, pid int) {
	t.Helper()
	if err := h.pids.Write(h.cfg.AppPidLocation, pid); err != nil {
		t.Fatal(err)
	}
}

func workerFunc(fn func(ctx context.Context) error) domain.Worker {
	if fn == nil {
		return IdleWorker
	}
	return domain.WorkerFunc(fn)
}

// failingPids refuses every write.
type failingPids struct {
	domain.PidFileStore
	err error
}

func (f failingPids) Write(string, int) error { return f.err }
