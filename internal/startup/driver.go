// Package startup detects the host OS family and installs a boot-time script that
// runs the daemon's start and stop commands.
package startup

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

//go:embed templates/*
var templates embed.FS

// Driver is the startup-integration capability of one OS family.
type Driver interface {
	Name() string
	Detect() bool
	ScriptPath(cfg *config.DaemonConfig) string
	Render(cfg *config.DaemonConfig) ([]byte, error)
	Install(ctx context.Context, cfg *config.DaemonConfig, overwrite bool) (domain.InstallResult, error)
	Uninstall(ctx context.Context, cfg *config.DaemonConfig) error
	AddToBoot(ctx context.Context, cfg *config.DaemonConfig) error
	RemoveFromBoot(ctx context.Context, cfg *config.DaemonConfig) error
}

// Variant describes one OS family as data.
type Variant struct {
	Name        string
	Kernel      string // uname sysname
	VersionFile string // must exist for the variant to match; empty matches any
	VersionText string // when set, VersionFile must contain it
	ScriptDir   string
	Template    string // file under templates/
	Tokens      TokenTable
	Mode        fs.FileMode

	// ScriptName defaults to the app name.
	ScriptName func(cfg *config.DaemonConfig) string
	// BootAdd and BootRemove build the registration command line; nil means unsupported.
	BootAdd    func(cfg *config.DaemonConfig, script string) []string
	BootRemove func(cfg *config.DaemonConfig, script string) []string
}

const launchdLabelPrefix = "com.sysdaemon."

var (
	Debian = Variant{
		Name:        "debian",
		Kernel:      "Linux",
		VersionFile: "/etc/debian_version",
		ScriptDir:   "/etc/init.d",
		Template:    "debian.tmpl",
		Tokens:      baseTokens.with(TokenTable{"stopCmd": "{stopCommand} {appName}"}).without("chkconfig"),
		Mode:        0o755,
		BootAdd: func(cfg *config.DaemonConfig, _ string) []string {
			return []string{"update-rc.d", cfg.AppName, "defaults"}
		},
		BootRemove: func(cfg *config.DaemonConfig, _ string) []string {
			return []string{"update-rc.d", "-f", cfg.AppName, "remove"}
		},
	}

	RedHat = Variant{
		Name:        "redhat",
		Kernel:      "Linux",
		VersionFile: "/etc/redhat-release",
		ScriptDir:   "/etc/rc.d/init.d",
		Template:    "redhat.tmpl",
		Tokens:      baseTokens,
		Mode:        0o755,
		BootAdd: func(cfg *config.DaemonConfig, _ string) []string {
			return []string{"/sbin/chkconfig", "--levels", "2345", cfg.AppName, "on"}
		},
		BootRemove: func(cfg *config.DaemonConfig, _ string) []string {
			return []string{"/sbin/chkconfig", "--del", cfg.AppName}
		},
	}

	Amazon = withOverrides(RedHat, func(v *Variant) {
		v.Name = "amazon"
		v.VersionFile = "/etc/system-release"
		v.VersionText = "Amazon"
	})

	Linux = Variant{
		Name:      "linux",
		Kernel:    "Linux",
		ScriptDir: "/etc/init.d",
		Template:  "linux.tmpl",
		Tokens:    baseTokens.with(TokenTable{"stopCmd": "{stopCommand} {appName}"}).without("chkconfig"),
		Mode:      0o755,
	}

	Launchd = Variant{
		Name:      "launchd",
		Kernel:    "Darwin",
		ScriptDir: "/Library/LaunchDaemons",
		Template:  "launchd.plist",
		Tokens: baseTokens.without("chkconfig").with(TokenTable{
			"label":        launchdLabelPrefix + "{appName}",
			"startCommand": "{startCommand}",
			"logFile":      "{logLocation}",
		}),
		Mode: 0o644,
		ScriptName: func(cfg *config.DaemonConfig) string {
			return launchdLabelPrefix + cfg.AppName + ".plist"
		},
		BootAdd: func(_ *config.DaemonConfig, script string) []string {
			return []string{"launchctl", "load", "-w", script}
		},
		BootRemove: func(_ *config.DaemonConfig, script string) []string {
			return []string{"launchctl", "unload", "-w", script}
		},
	}
)

// Variants is the detection order, most specific first.
var Variants = []Variant{Amazon, RedHat, Debian, Linux, Launchd}

func withOverrides(base Variant, fn func(v *Variant)) Variant {
	v := base
	v.Tokens = base.Tokens.with(nil)
	fn(&v)
	return v
}

// driver binds a variant to a host.
type driver struct {
	v    Variant
	host *Host
}

// Select returns the first variant that matches host.
func Select(host *Host) (Driver, error) {
	return SelectFrom(host, Variants)
}

// SelectFrom is Select over an explicit variant list.
func SelectFrom(host *Host, variants []Variant) (Driver, error) {
	for _, v := range variants {
		d := &driver{v: v, host: host}
		if d.Detect() {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedOS, host.Describe())
}

func (d *driver) Name() string { return d.v.Name }

// Detect matches the kernel name and, when set, the distro version file and its content.
func (d *driver) Detect() bool {
	if !strings.EqualFold(d.host.Kernel, d.v.Kernel) {
		return false
	}
	if d.v.VersionFile == "" {
		return true
	}
	if d.v.VersionText == "" {
		return d.host.Exists(d.v.VersionFile)
	}
	content, err := d.host.ReadFile(d.v.VersionFile)
	return err == nil && strings.Contains(string(content), d.v.VersionText)
}

// ScriptPath is the installed location, relative to the host root.
func (d *driver) ScriptPath(cfg *config.DaemonConfig) string {
	name := cfg.AppName
	if d.v.ScriptName != nil {
		name = d.v.ScriptName(cfg)
	}
	return filepath.Join(d.v.ScriptDir, name)
}

// Render produces the script for cfg from runTemplateLocation or the family template.
func (d *driver) Render(cfg *config.DaemonConfig) ([]byte, error) {
	var (
		text []byte
		err  error
		name = d.v.Template
	)
	if cfg.RunTemplateLocation != "" {
		name = cfg.RunTemplateLocation
		text, err = os.ReadFile(cfg.RunTemplateLocation)
	} else {
		text, err = templates.ReadFile("templates/" + d.v.Template)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read template %s: %v", domain.ErrStartupScript, name, err)
	}
	return Render(name, string(text), d.v.Tokens, cfg)
}

// Install writes the rendered script. An existing script is kept unless overwrite is set.
func (d *driver) Install(_ context.Context, cfg *config.DaemonConfig, overwrite bool) (domain.InstallResult, error) {
	if !d.host.Privilege.IsRoot() {
		return domain.InstallResult{}, domain.ErrPrivilege
	}

	script, err := d.Render(cfg)
	if err != nil {
		return domain.InstallResult{}, err
	}

	path := d.host.Path(d.ScriptPath(cfg))
	if _, err := os.Stat(path); err == nil && !overwrite {
		return domain.InstallResult{Path: path, AlreadyInstalled: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.InstallResult{}, fmt.Errorf("%w: %v", domain.ErrStartupScript, err)
	}
	if err := renameio.WriteFile(path, script, d.v.Mode); err != nil {
		return domain.InstallResult{}, fmt.Errorf("%w: failed to write %s: %v", domain.ErrStartupScript, path, err)
	}
	return domain.InstallResult{Path: path}, nil
}

// Uninstall removes the script. A missing script is not an error.
func (d *driver) Uninstall(_ context.Context, cfg *config.DaemonConfig) error {
	if !d.host.Privilege.IsRoot() {
		return domain.ErrPrivilege
	}
	path := d.host.Path(d.ScriptPath(cfg))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove %s: %v", domain.ErrStartupScript, path, err)
	}
	return nil
}

// AddToBoot registers the script with the init system.
func (d *driver) AddToBoot(ctx context.Context, cfg *config.DaemonConfig) error {
	return d.boot(ctx, cfg, d.v.BootAdd)
}

// RemoveFromBoot unregisters the script from the init system.
func (d *driver) RemoveFromBoot(ctx context.Context, cfg *config.DaemonConfig) error {
	return d.boot(ctx, cfg, d.v.BootRemove)
}

func (d *driver) boot(ctx context.Context, cfg *config.DaemonConfig, build func(*config.DaemonConfig, string) []string) error {
	if !d.host.Privilege.IsRoot() {
		return domain.ErrPrivilege
	}
	if build == nil {
		return fmt.Errorf("%w: %s has no boot registration command", domain.ErrUnsupportedOS, d.v.Name)
	}
	argv := build(cfg, d.host.Path(d.ScriptPath(cfg)))
	out, err := d.host.Runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		if out != "" {
			return fmt.Errorf("%w: %s: %v: %s", domain.ErrStartupScript, strings.Join(argv, " "), err, out)
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrStartupScript, strings.Join(argv, " "), err)
	}
	return nil
}
