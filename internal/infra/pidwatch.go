package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// pidRecheck is the fallback poll for filesystems that drop inotify events.
const pidRecheck = 250 * time.Millisecond

// WaitForPidFile blocks until the pid file at path holds a PID, the timeout expires
// or ctx is cancelled. The parent directory may not exist yet when called.
func WaitForPidFile(ctx context.Context, store domain.PidFileStore, path string, timeout time.Duration) (int, error) {
	if pid, ok, err := store.Read(path); ok && err == nil {
		return pid, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	watchClosest(watcher, dir)

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sctx := stopper.WithContext(tctx)
	sctx.Defer(func() { _ = watcher.Close() })

	found := make(chan int, 1)
	sctx.Go(func(sctx *stopper.Context) error {
		ticker := time.NewTicker(pidRecheck)
		defer ticker.Stop()

		check := func() bool {
			pid, ok, err := store.Read(path)
			if !ok || err != nil {
				return false
			}
			found <- pid
			return true
		}

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil
			case <-tctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if ev.Has(fsnotify.Create) && ev.Name == dir {
					_ = watcher.Add(dir)
				}
				if check() {
					return nil
				}
			case <-watcher.Errors:
			case <-ticker.C:
				watchClosest(watcher, dir)
				if check() {
					return nil
				}
			}
		}
		return nil
	})

	select {
	case pid := <-found:
		sctx.Stop(100 * time.Millisecond)
		_ = sctx.Wait()
		return pid, nil
	case <-tctx.Done():
		sctx.Stop(100 * time.Millisecond)
		_ = sctx.Wait()
		select {
		case pid := <-found:
			return pid, nil
		default:
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: no PID written to %s within %s", domain.ErrPidFile, path, timeout)
	}
}

// watchClosest watches dir, or its nearest existing ancestor so its creation is seen.
func watchClosest(w *fsnotify.Watcher, dir string) {
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			_ = w.Add(d)
			return
		}
		if filepath.Dir(d) == d {
			return
		}
	}
}
