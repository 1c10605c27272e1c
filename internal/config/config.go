// Package config holds the per-daemon option set and its loading, normalization and validation.
package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// DaemonConfig is the option set of one daemon. TOML keys match the option names
// used by the configuration collaborator (appName, appPidLocation, ...).
type DaemonConfig struct {
	AppName        string `toml:"appName"`
	AppDescription string `toml:"appDescription"`
	AppDir         string `toml:"appDir"`
	AppExecutable  string `toml:"appExecutable"`
	AuthorName     string `toml:"authorName"`
	AuthorEmail    string `toml:"authorEmail"`

	AppUser                string `toml:"appUser"`
	AppGroup               string `toml:"appGroup"`
	AppRunAsUID            *int   `toml:"appRunAsUID"`
	AppRunAsGID            *int   `toml:"appRunAsGID"`
	AppDieOnIdentityCrisis bool   `toml:"appDieOnIdentityCrisis"`

	AppPidLocation string `toml:"appPidLocation"`
	AppChkConfig   string `toml:"appChkConfig"`

	LogLocation     string `toml:"logLocation"`
	LogVerbosity    int    `toml:"logVerbosity"`
	LogFilePosition bool   `toml:"logFilePosition"`
	LogTrimAppDir   bool   `toml:"logTrimAppDir"`
	LogLinePosition bool   `toml:"logLinePosition"`
	LogMaxSizeMB    int    `toml:"logMaxSizeMB"`
	LogMaxBackups   int    `toml:"logMaxBackups"`

	StartCommand   string `toml:"startCommand"`
	StopCommand    string `toml:"stopCommand"`
	RestartCommand string `toml:"restartCommand"`

	IterateInterval     int  `toml:"iterateInterval"` // seconds
	ReclaimMemory       bool `toml:"reclaimMemory"`
	RestartPollInterval int  `toml:"restartPollInterval"` // milliseconds
	RestartPollAttempts int  `toml:"restartPollAttempts"`

	SysMemoryLimit  string `toml:"sysMemoryLimit"`
	SysMaxOpenFiles uint64 `toml:"sysMaxOpenFiles"`

	RunTemplateLocation string `toml:"runTemplateLocation"`
}

// FromMap builds a config for the flat key/value option map handed over by the
// configuration collaborator. Defaults are applied first; unknown keys are ignored.
func FromMap(opts map[string]any) (*DaemonConfig, error) {
	name, _ := opts["appName"].(string)
	cfg := Default(name)

	clean := make(map[string]any, len(opts))
	for k, v := range opts {
		switch n := v.(type) {
		case nil:
			continue
		case float64:
			// JSON and YAML decoders hand integers over as float64.
			if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
				v = int64(n)
			}
		}
		clean[k] = v
	}
	data, err := toml.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	cfg.expandPaths()
	return &cfg, nil
}

// Load reads a TOML file holding one [daemons.<name>] table per daemon and returns
// normalized, validated configs keyed by name.
func Load(path string, resolver IdentityResolver) (map[string]*DaemonConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var layout struct {
		Daemons map[string]map[string]any `toml:"daemons"`
	}
	if err := toml.NewDecoder(f).Decode(&layout); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfigInvalid, path, err)
	}

	out := make(map[string]*DaemonConfig, len(layout.Daemons))
	for name, opts := range layout.Daemons {
		if opts == nil {
			opts = map[string]any{}
		}
		if _, ok := opts["appName"]; !ok {
			opts["appName"] = name
		}
		cfg, err := FromMap(opts)
		if err != nil {
			return nil, fmt.Errorf("daemon %s: %w", name, err)
		}
		if err := cfg.Normalize(resolver); err != nil {
			return nil, fmt.Errorf("daemon %s: %w", name, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("daemon %s: %w", name, err)
		}
		out[name] = cfg
	}
	return out, nil
}

// UID returns the run-as user id, or -1 when unset.
func (c *DaemonConfig) UID() int {
	if c.AppRunAsUID == nil {
		return -1
	}
	return *c.AppRunAsUID
}

// GID returns the run-as group id, or -1 when unset.
func (c *DaemonConfig) GID() int {
	if c.AppRunAsGID == nil {
		return -1
	}
	return *c.AppRunAsGID
}

// Verbosity returns the log threshold as a Severity.
func (c *DaemonConfig) Verbosity() domain.Severity {
	return domain.Severity(c.LogVerbosity)
}

// Interval returns the default iterate sleep.
func (c *DaemonConfig) Interval() time.Duration {
	return time.Duration(c.IterateInterval) * time.Second
}

// Values flattens the config into option-name -> string form.
func (c *DaemonConfig) Values() map[string]string {
	v := map[string]string{
		"appName":                c.AppName,
		"appDescription":         c.AppDescription,
		"appDir":                 c.AppDir,
		"appExecutable":          c.AppExecutable,
		"authorName":             c.AuthorName,
		"authorEmail":            c.AuthorEmail,
		"appUser":                c.AppUser,
		"appGroup":               c.AppGroup,
		"appDieOnIdentityCrisis": strconv.FormatBool(c.AppDieOnIdentityCrisis),
		"appPidLocation":         c.AppPidLocation,
		"appChkConfig":           c.AppChkConfig,
		"logLocation":            c.LogLocation,
		"logVerbosity":           strconv.Itoa(c.LogVerbosity),
		"logFilePosition":        strconv.FormatBool(c.LogFilePosition),
		"logTrimAppDir":          strconv.FormatBool(c.LogTrimAppDir),
		"logLinePosition":        strconv.FormatBool(c.LogLinePosition),
		"startCommand":           c.StartCommand,
		"stopCommand":            c.StopCommand,
		"restartCommand":         c.RestartCommand,
		"iterateInterval":        strconv.Itoa(c.IterateInterval),
		"sysMemoryLimit":         c.SysMemoryLimit,
		"runTemplateLocation":    c.RunTemplateLocation,
	}
	if c.AppRunAsUID != nil {
		v["appRunAsUID"] = strconv.Itoa(*c.AppRunAsUID)
	}
	if c.AppRunAsGID != nil {
		v["appRunAsGID"] = strconv.Itoa(*c.AppRunAsGID)
	}
	return v
}

// Keys returns the sorted option names known to Values.
func (c *DaemonConfig) Keys() []string {
	vals := c.Values()
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup resolves a possibly dotted placeholder key. Only the last segment is
// significant, so {OPTIONS.appName} and {appName} are the same value.
func (c *DaemonConfig) Lookup(key string) (string, bool) {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	v, ok := c.Values()[key]
	return v, ok
}

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// Expand substitutes {key} placeholders with config values. Unknown keys are left as written.
func (c *DaemonConfig) Expand(text string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	vals := c.Values()
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		if i := strings.LastIndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		if v, ok := vals[key]; ok {
			return v
		}
		return m
	})
}
