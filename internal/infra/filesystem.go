package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// MkdirAllOwned creates path and any missing parents, handing every newly created
// level to uid:gid. Chown is best effort. If a level cannot be created, the levels
// created by this call are removed again so no partial tree is left behind.
func MkdirAllOwned(path string, perm os.FileMode, uid, gid int) error {
	path = filepath.Clean(path)

	var missing []string
	for p := path; ; p = filepath.Dir(p) {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s exists and is not a directory", p)
			}
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		missing = append(missing, p)
		if parent := filepath.Dir(p); parent == p {
			break
		}
	}

	var created []string
	for i := len(missing) - 1; i >= 0; i-- {
		dir := missing[i]
		if err := os.Mkdir(dir, perm); err != nil && !errors.Is(err, os.ErrExist) {
			for j := len(created) - 1; j >= 0; j-- {
				_ = os.Remove(created[j])
			}
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		created = append(created, dir)
		if uid >= 0 || gid >= 0 {
			_ = os.Chown(dir, uid, gid)
		}
	}
	return nil
}

// DirWritable reports whether dir, or its closest existing ancestor when dir is
// missing, is writable by the effective identity. owner is the uid owning that
// directory.
func DirWritable(dir string) (ok bool, checked string, owner int) {
	checked = filepath.Clean(dir)
	for {
		info, err := os.Stat(checked)
		if err == nil {
			owner = -1
			if st, isStat := info.Sys().(*syscall.Stat_t); isStat {
				owner = int(st.Uid)
			}
			return unix.Access(checked, unix.W_OK) == nil, checked, owner
		}
		parent := filepath.Dir(checked)
		if parent == checked {
			return false, checked, -1
		}
		checked = parent
	}
}
