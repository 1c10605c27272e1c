package startup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
	"github.com/eliteGoblin/sysdaemon/internal/infra"
)

// Host is the machine a driver inspects and modifies. Root prefixes every
// filesystem path, "/" on a real system.
type Host struct {
	Kernel    string
	Root      string
	Privilege domain.PrivilegeChecker
	Runner    domain.CommandRunner
}

// SystemHost describes the machine this process runs on.
func SystemHost() *Host {
	return &Host{
		Kernel:    infra.KernelName(),
		Root:      "/",
		Privilege: infra.RootChecker{},
		Runner:    infra.ExecRunner{},
	}
}

// Path maps an absolute system path under Root.
func (h *Host) Path(p string) string {
	if h.Root == "" || h.Root == "/" {
		return p
	}
	return filepath.Join(h.Root, p)
}

// Exists reports whether p exists on the host.
func (h *Host) Exists(p string) bool {
	_, err := os.Stat(h.Path(p))
	return err == nil
}

// ReadFile reads p from the host.
func (h *Host) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(h.Path(p))
}

// Describe names the host platform for error messages.
func (h *Host) Describe() string {
	if h.Root == "" || h.Root == "/" {
		if facts, err := Facts(); err == nil && facts.Platform != "" {
			return fmt.Sprintf("%s %s (%s)", facts.Platform, facts.PlatformVersion, h.Kernel)
		}
	}
	if h.Kernel == "" {
		return "unknown kernel"
	}
	return h.Kernel
}

// PlatformFacts are the host details shown by the status command.
type PlatformFacts struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformFamily  string
	PlatformVersion string
	KernelVersion   string
	Uptime          uint64
}

// Facts reads platform details through gopsutil.
func Facts() (PlatformFacts, error) {
	info, err := host.Info()
	if err != nil {
		return PlatformFacts{}, fmt.Errorf("failed to read host info: %w", err)
	}
	return PlatformFacts{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformFamily:  info.PlatformFamily,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Uptime:          info.Uptime,
	}, nil
}
