//go:build integration

package integration

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/daemon"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
	"github.com/eliteGoblin/sysdaemon/internal/infra"
	"github.com/eliteGoblin/sysdaemon/internal/logging"
)

// childSpawner makes the current process play the detached worker.
type childSpawner struct{}

func (childSpawner) IsChild() bool       { return true }
func (childSpawner) Spawn() (int, error) { return 0, nil }

type exits struct {
	mu    sync.Mutex
	codes []int
}

func (e *exits) record(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exits) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func newConfig(dir string) *config.DaemonConfig {
	cfg := config.Default("worker1")
	uid, gid := os.Getuid(), os.Getgid()
	cfg.AppRunAsUID, cfg.AppRunAsGID = &uid, &gid
	cfg.AppDir = dir
	cfg.AppPidLocation = filepath.Join(dir, "run", "worker1", "worker1.pid")
	cfg.LogLocation = filepath.Join(dir, "log", "worker1.log")
	cfg.IterateInterval = 1
	cfg.RestartPollInterval = 50
	cfg.RestartPollAttempts = 100
	return &cfg
}

func newPids(cfg *config.DaemonConfig) *infra.PidFileManager {
	return infra.NewPidFileManager(cfg, logging.New(cfg, logging.Options{Stdout: io.Discard}))
}

// startSleeper runs a long sleep and reaps it when it exits.
func startSleeper() *exec.Cmd {
	sleep, err := exec.LookPath("sleep")
	Expect(err).NotTo(HaveOccurred())
	cmd := exec.Command(sleep, "60")
	Expect(cmd.Start()).To(Succeed())
	go func() { _ = cmd.Wait() }()
	return cmd
}

var _ = Describe("Daemon lifecycle", func() {
	var (
		tmpDir string
		cfg    *config.DaemonConfig
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "sysdaemon-integration-*")
		Expect(err).NotTo(HaveOccurred())
		cfg = newConfig(tmpDir)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Start in the worker process", func() {
		It("records its pid, is seen running from outside and cleans up on SIGTERM", func() {
			exit := &exits{}
			var (
				seenRunning bool
				seenPid     int
				calls       int
			)

			d, err := daemon.New(cfg, domain.WorkerFunc(func(context.Context) error {
				calls++
				if calls > 1 {
					return nil
				}
				checker, err := daemon.New(cfg, nil, daemon.Deps{})
				Expect(err).NotTo(HaveOccurred())
				defer checker.Close()

				seenRunning = checker.IsRunning()
				data, err := os.ReadFile(cfg.AppPidLocation)
				Expect(err).NotTo(HaveOccurred())
				seenPid, _ = strconv.Atoi(string(data))

				Expect(unix.Kill(os.Getpid(), unix.SIGTERM)).To(Succeed())
				return nil
			}), daemon.Deps{Runtime: daemon.Runtime{
				Spawner: childSpawner{},
				Chdir:   func(string) error { return nil },
				Umask:   func(int) int { return 0o022 },
				Exit:    exit.record,
			}})
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			Expect(d.Start(context.Background())).To(Succeed())

			Expect(seenRunning).To(BeTrue())
			Expect(seenPid).To(Equal(os.Getpid()))
			Expect(exit.Codes()).To(Equal([]int{0}))
			Expect(d.State().Phase).To(Equal(domain.PhaseTerminated))
			Expect(cfg.AppPidLocation).NotTo(BeAnExistingFile())
			Expect(d.IsRunning()).To(BeFalse())

			info, err := os.Stat(filepath.Dir(cfg.AppPidLocation))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})
	})

	Describe("Start in the parent process", func() {
		It("logs the start line first and spawns a detached worker", func() {
			sleep, err := exec.LookPath("sleep")
			Expect(err).NotTo(HaveOccurred())

			d, err := daemon.New(cfg, nil, daemon.Deps{Runtime: daemon.Runtime{
				Spawner: daemon.NewExecSpawner(cfg.AppName, sleep, []string{"60"}),
			}})
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			Expect(d.Start(context.Background())).To(Succeed())
			pid := d.State().PID
			Expect(pid).To(BeNumerically(">", 0))
			defer unix.Kill(pid, unix.SIGKILL)

			Expect(infra.NewProcessTable().IsRunning(pid)).To(BeTrue())

			data, err := os.ReadFile(cfg.LogLocation)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(MatchRegexp(`^\[\w{3} \d{2} \d{2}:\d{2}:\d{2}\]     info: Starting worker1 daemon\n`))
		})
	})

	Describe("Stop", func() {
		It("is a no-op when nothing runs", func() {
			d, err := daemon.New(cfg, nil, daemon.Deps{})
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			Expect(d.Stop()).To(Succeed())
			data, err := os.ReadFile(cfg.LogLocation)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("worker1 daemon not found. Skipping shutdown."))
		})

		It("terminates the recorded process and removes the pid file", func() {
			sleeper := startSleeper()
			pids := newPids(cfg)
			Expect(pids.Write(cfg.AppPidLocation, sleeper.Process.Pid)).To(Succeed())

			d, err := daemon.New(cfg, nil, daemon.Deps{})
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			Expect(d.IsRunning()).To(BeTrue())
			Expect(d.Stop()).To(Succeed())
			Expect(cfg.AppPidLocation).NotTo(BeAnExistingFile())
			Expect(d.IsRunning()).To(BeFalse())

			procs := infra.NewProcessTable()
			Eventually(func() bool { return procs.IsRunning(sleeper.Process.Pid) }).
				WithTimeout(5 * time.Second).Should(BeFalse())
		})
	})

	Describe("Restart", func() {
		It("waits for the old pid to disappear and starts a new worker", func() {
			sleep, err := exec.LookPath("sleep")
			Expect(err).NotTo(HaveOccurred())

			old := startSleeper()
			pids := newPids(cfg)
			Expect(pids.Write(cfg.AppPidLocation, old.Process.Pid)).To(Succeed())

			d, err := daemon.New(cfg, nil, daemon.Deps{Runtime: daemon.Runtime{
				Spawner: daemon.NewExecSpawner(cfg.AppName, sleep, []string{"60"}),
			}})
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			Expect(d.Restart(context.Background())).To(Succeed())
			fresh := d.State().PID
			defer unix.Kill(fresh, unix.SIGKILL)

			Expect(fresh).NotTo(Equal(old.Process.Pid))
			Expect(infra.NewProcessTable().IsRunning(old.Process.Pid)).To(BeFalse())

			data, err := os.ReadFile(cfg.LogLocation)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("worker1 System Daemon flagged for restart."))
		})
	})

	Describe("Orphaned pid files", func() {
		It("are removed by IsRunning", func() {
			gone := exec.Command("true")
			Expect(gone.Run()).To(Succeed())

			pids := newPids(cfg)
			Expect(pids.Write(cfg.AppPidLocation, gone.Process.Pid)).To(Succeed())

			d, err := daemon.New(cfg, nil, daemon.Deps{})
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			Expect(d.IsRunning()).To(BeFalse())
			Expect(cfg.AppPidLocation).NotTo(BeAnExistingFile())
			Expect(d.IsRunning()).To(BeFalse())
		})
	})

	Describe("WaitForPidFile", func() {
		It("returns once the pid file appears", func() {
			pids := newPids(cfg)
			go func() {
				time.Sleep(100 * time.Millisecond)
				_ = pids.Write(cfg.AppPidLocation, 4321)
			}()

			pid, err := infra.WaitForPidFile(context.Background(), pids, cfg.AppPidLocation, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(pid).To(Equal(4321))
		})
	})
})
