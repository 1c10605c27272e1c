package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

const (
	pidFileMode = 0o644
	pidDirMode  = 0o755
	lockSuffix  = ".lock"
)

// PidFileManager reads and writes the daemon's process-identity file.
// Created directories and the file itself are handed to the run-as identity.
type PidFileManager struct {
	appName string
	uid     int
	gid     int
	log     domain.Logger
}

// NewPidFileManager creates a manager for the daemon described by cfg.
func NewPidFileManager(cfg *config.DaemonConfig, log domain.Logger) *PidFileManager {
	return &PidFileManager{
		appName: cfg.AppName,
		uid:     cfg.UID(),
		gid:     cfg.GID(),
		log:     log,
	}
}

// ValidateLocation checks the path is inside a dedicated per-app directory.
func (m *PidFileManager) ValidateLocation(path string) error {
	if err := config.ValidatePidLocation(path, m.appName); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPidFile, err)
	}
	return nil
}

// Read returns the recorded PID. ok is false when the file does not exist.
func (m *PidFileManager) Read(path string) (int, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: failed to read %s: %v", domain.ErrPidFile, path, err)
	}

	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, true, fmt.Errorf("%w: invalid PID %q in %s", domain.ErrPidFile, raw, path)
	}
	return pid, true, nil
}

// Write records pid at path. The write is atomic and guarded by an flock on path+".lock".
func (m *PidFileManager) Write(path string, pid int) error {
	if err := m.ValidateLocation(path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := MkdirAllOwned(dir, pidDirMode, m.uid, m.gid); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPidFile, err)
	}

	lock := flock.New(path + lockSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("%w: failed to lock %s: %v", domain.ErrPidFile, path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s is being written by another process", domain.ErrPidFile, path)
	}
	defer lock.Unlock()

	if err := renameio.WriteFile(path, []byte(strconv.Itoa(pid)), pidFileMode); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", domain.ErrPidFile, path, err)
	}
	if err := os.Chmod(path, pidFileMode); err != nil {
		m.log.Warning("Unable to chmod %s: %s", path, err)
	}
	if err := os.Chown(path, m.uid, m.gid); err != nil {
		m.log.Warning("Unable to chown %s to %s:%s: %s", path, m.uid, m.gid, err)
	}
	return nil
}

// Remove unlinks the pid file and its lock file.
func (m *PidFileManager) Remove(path string) error {
	_ = os.Remove(path + lockSuffix)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Err("Unable to remove pidfile %s: %s", path, err)
		return fmt.Errorf("%w: failed to remove %s: %v", domain.ErrPidFile, path, err)
	}
	return nil
}

var _ domain.PidFileStore = (*PidFileManager)(nil)
