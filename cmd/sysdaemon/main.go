// Package main is the CLI entry point for sysdaemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/daemon"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
	"github.com/eliteGoblin/sysdaemon/internal/infra"
	"github.com/eliteGoblin/sysdaemon/internal/signals"
	"github.com/eliteGoblin/sysdaemon/internal/startup"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

const defaultConfigPath = "/etc/sysdaemon/daemons.toml"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sysdaemon",
	Short: "Run workers as Unix daemons",
	Long: `sysdaemon starts, stops and inspects daemons defined in a TOML file.
Each [daemons.<name>] table configures one daemon: pid file, log file,
run-as identity and the startup script installed for the host init system.`,
	Version:      Version,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a daemon in the background",
	Long: `Detaches the daemon from the terminal and records its pid file.
With --wait the command returns once the worker has written its pid file.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Stop a daemon, wait for it to exit and start it again",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestart,
}

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show daemon status",
	Long:  `Shows whether the configured daemons are running. Without a name every daemon is listed.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var installCmd = &cobra.Command{
	Use:   "install <name>",
	Short: "Install the boot-time startup script (requires root)",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Remove the boot-time startup script (requires root)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUninstall,
}

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "List the signals a daemon can handle",
	Run:   runSignals,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath  string
	logLevel    string
	waitTimeout time.Duration
	overwrite   bool
	jsonOutput  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Daemon definitions file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logVerbosity (emerg ... debug)")
	startCmd.Flags().DurationVar(&waitTimeout, "wait", 0, "Wait up to this long for the pid file")
	restartCmd.Flags().DurationVar(&waitTimeout, "wait", 0, "Wait up to this long for the new pid file")
	installCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing startup script")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(signalsCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfigs() (map[string]*config.DaemonConfig, error) {
	return config.Load(configPath, config.OSIdentityResolver{})
}

// openDaemon builds the daemon named name. The worker is re-executed as
// `sysdaemon start <name> --config <path>`.
func openDaemon(name string) (*daemon.Daemon, error) {
	configs, err := loadConfigs()
	if err != nil {
		return nil, err
	}
	cfg, ok := configs[name]
	if !ok {
		return nil, fmt.Errorf("daemon %q is not defined in %s", name, configPath)
	}
	args := []string{"start", name, "--config", configPath}
	if logLevel != "" {
		sev, err := domain.ParseSeverity(logLevel)
		if err != nil {
			return nil, err
		}
		cfg.LogVerbosity = int(sev)
		args = append(args, "--log-level", logLevel)
	}
	return daemon.New(cfg, daemon.IdleWorker, daemon.Deps{SpawnArgs: args})
}

func runStart(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(cmd.Context()); err != nil {
		return err
	}
	return waitForPid(cmd.Context(), d)
}

func runStop(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(args[0])
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Stop()
}

func runRestart(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Restart(cmd.Context()); err != nil {
		return err
	}
	return waitForPid(cmd.Context(), d)
}

// waitForPid reports the new worker's pid when --wait is set.
func waitForPid(ctx context.Context, d *daemon.Daemon) error {
	if waitTimeout <= 0 {
		return nil
	}
	cfg := d.Config()
	store := infra.NewPidFileManager(cfg, d.Logger())
	pid, err := infra.WaitForPidFile(ctx, store, cfg.AppPidLocation, waitTimeout)
	if err != nil {
		return fmt.Errorf("%s did not come up: %w", cfg.AppName, err)
	}
	fmt.Printf("%s running with pid %d\n", cfg.AppName, pid)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	configs, err := loadConfigs()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(configs))
	for name := range configs {
		if len(args) == 1 && name != args[0] {
			continue
		}
		names = append(names, name)
	}
	if len(args) == 1 && len(names) == 0 {
		return fmt.Errorf("daemon %q is not defined in %s", args[0], configPath)
	}
	sort.Strings(names)

	execCtx := infra.DetectExecContext()
	if facts, err := startup.Facts(); err == nil {
		fmt.Printf("Host: %s (%s %s, kernel %s)\n", facts.Hostname, facts.Platform, facts.PlatformVersion, facts.KernelVersion)
	}
	fmt.Printf("Execution mode: %s\n\n", execCtx.Summary())

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		d, err := daemon.New(configs[name], daemon.IdleWorker, daemon.Deps{})
		if err != nil {
			return err
		}
		st := d.Status()
		_ = d.Close()

		state, pid, started := "stopped", "-", "-"
		if st.Running {
			state, pid = "running", strconv.Itoa(st.PID)
			if !st.StartedAt.IsZero() {
				started = st.StartedAt.Format(time.DateTime)
			}
		}
		rows = append(rows, []string{st.Name, state, pid, st.Command, started, st.PidFile, st.LogFile})
	}

	fmt.Println(renderTable(
		[]string{"Name", "State", "PID", "Command", "Started", "PID file", "Log file"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
		execCtx.Interactive,
	))
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	if !d.WriteAutoRun(cmd.Context(), overwrite) {
		return fmt.Errorf("startup script for %s was not installed, see %s", args[0], d.Config().LogLocation)
	}
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	if !d.DeleteAutoRun(cmd.Context()) {
		return fmt.Errorf("startup script for %s was not removed, see %s", args[0], d.Config().LogLocation)
	}
	return nil
}

func runSignals(cmd *cobra.Command, args []string) {
	for _, name := range signals.Available() {
		fmt.Println(name)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
	} else {
		fmt.Printf("sysdaemon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
