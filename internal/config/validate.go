package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

var appNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Validate ensures the configuration is usable. It never touches the filesystem.
func (c *DaemonConfig) Validate() error {
	var problems []string

	if !appNameRe.MatchString(c.AppName) {
		problems = append(problems, fmt.Sprintf("appName %q must be non-empty and contain only letters, digits, '_', '-', '.'", c.AppName))
	}
	if c.AppRunAsUID == nil || *c.AppRunAsUID < 0 {
		problems = append(problems, "appRunAsUID must be set")
	}
	if c.AppRunAsGID == nil || *c.AppRunAsGID < 0 {
		problems = append(problems, "appRunAsGID must be set")
	}
	if err := ValidatePidLocation(c.AppPidLocation, c.AppName); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(c.LogLocation) == "" {
		problems = append(problems, "logLocation must be set")
	}
	if !c.Verbosity().Valid() {
		problems = append(problems, "logVerbosity must be between 0 (emerg) and 7 (debug)")
	}
	if c.IterateInterval < 0 {
		problems = append(problems, "iterateInterval must not be negative")
	}
	if c.RestartPollInterval <= 0 || c.RestartPollAttempts <= 0 {
		problems = append(problems, "restartPollInterval and restartPollAttempts must be positive")
	}
	if _, err := ParseMemoryLimit(c.SysMemoryLimit); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ValidatePidLocation checks that the pid file lives in its own directory named after the app,
// like /var/run/<app>/<app>.pid, so two daemons never share an identity file.
func ValidatePidLocation(path, appName string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%s daemon encountered an empty appPidLocation", appName)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("appPidLocation %s must be an absolute path", path)
	}
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "/" || filepath.Base(dir) != appName {
		return fmt.Errorf("the pidfile needs to be in its own subdirectory like: %s/%s/%s.pid",
			filepath.Dir(dir), appName, appName)
	}
	return nil
}

// ParseMemoryLimit converts values such as "128M", "1G" or "0" into bytes.
// Empty and "0" mean no limit.
func ParseMemoryLimit(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	mult := int64(1)
	switch unit := strings.ToUpper(s[len(s)-1:]); unit {
	case "K":
		mult = 1 << 10
	case "M":
		mult = 1 << 20
	case "G":
		mult = 1 << 30
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("sysMemoryLimit %q is not a size like 128M", orig)
	}
	return n * mult, nil
}
