package config

import (
	"os"
	"path/filepath"
)

const (
	defaultDescription         = "System daemon"
	defaultAuthorName          = "sysdaemon"
	defaultAuthorEmail         = "root@localhost"
	defaultPidLocation         = "/var/run/{appName}/{appName}.pid"
	defaultLogLocation         = "/var/log/{appName}.log"
	defaultLogVerbosity        = 6 // info
	defaultChkConfig           = "- 99 0"
	defaultStartCommand        = "start"
	defaultStopCommand         = "stop"
	defaultRestartCommand      = "restart"
	defaultIterateInterval     = 2
	defaultRestartPollInterval = 250
	defaultRestartPollAttempts = 40
	defaultLogMaxBackups       = 3
)

// Default returns a DaemonConfig populated with defaults for the named daemon.
// Identity fields are left unset; they must come from the caller or appUser/appGroup.
func Default(name string) DaemonConfig {
	appDir, appExe := "/", ""
	if exe, err := os.Executable(); err == nil {
		appDir, appExe = filepath.Dir(exe), filepath.Base(exe)
	}

	return DaemonConfig{
		AppName:                name,
		AppDescription:         defaultDescription,
		AppDir:                 appDir,
		AppExecutable:          appExe,
		AuthorName:             defaultAuthorName,
		AuthorEmail:            defaultAuthorEmail,
		AppDieOnIdentityCrisis: true,
		AppPidLocation:         defaultPidLocation,
		AppChkConfig:           defaultChkConfig,
		LogLocation:            defaultLogLocation,
		LogVerbosity:           defaultLogVerbosity,
		LogTrimAppDir:          true,
		LogLinePosition:        true,
		LogMaxBackups:          defaultLogMaxBackups,
		StartCommand:           defaultStartCommand,
		StopCommand:            defaultStopCommand,
		RestartCommand:         defaultRestartCommand,
		IterateInterval:        defaultIterateInterval,
		ReclaimMemory:          true,
		RestartPollInterval:    defaultRestartPollInterval,
		RestartPollAttempts:    defaultRestartPollAttempts,
	}
}
