package infra

import (
	"fmt"
	"os"
	"runtime/debug"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// PosixIdentity switches the whole process to another uid/gid.
type PosixIdentity struct{}

// Drop sets supplementary groups, gid and uid, in that order. It is a no-op when
// the process already runs as uid:gid.
func (PosixIdentity) Drop(uid, gid int) error {
	if os.Geteuid() == uid && os.Getegid() == gid {
		return nil
	}
	if err := unix.Setgroups([]int{gid}); err != nil && os.Geteuid() == 0 {
		return fmt.Errorf("%w: setgroups(%d): %v", domain.ErrIdentityDropFailed, gid, err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("%w: setgid(%d): %v", domain.ErrIdentityDropFailed, gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("%w: setuid(%d): %v", domain.ErrIdentityDropFailed, uid, err)
	}
	return nil
}

var _ domain.IdentityDropper = PosixIdentity{}

// ApplyLimits applies sysMemoryLimit and sysMaxOpenFiles from cfg. Zero values leave
// the current limits untouched.
func ApplyLimits(cfg *config.DaemonConfig) error {
	limit, err := config.ParseMemoryLimit(cfg.SysMemoryLimit)
	if err != nil {
		return err
	}
	if limit > 0 {
		debug.SetMemoryLimit(limit)
	}

	if cfg.SysMaxOpenFiles > 0 {
		rl := unix.Rlimit{Cur: cfg.SysMaxOpenFiles, Max: cfg.SysMaxOpenFiles}
		var cur unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &cur); err == nil && cur.Max < rl.Max && os.Geteuid() != 0 {
			rl.Max = cur.Max
			if rl.Cur > rl.Max {
				rl.Cur = rl.Max
			}
		}
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
			return fmt.Errorf("failed to set open file limit to %d: %w", cfg.SysMaxOpenFiles, err)
		}
	}
	return nil
}
