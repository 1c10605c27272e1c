package infra

import (
	"fmt"
	"sync"
)

// recordingLogger is a test double for domain.Logger.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) add(level, format string, args ...any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+": "+fmt.Sprintf(format, args...))
	return true
}

func (r *recordingLogger) Emerg(f string, a ...any) bool   { r.add("emerg", f, a...); return false }
func (r *recordingLogger) Alert(f string, a ...any) bool   { r.add("alert", f, a...); return false }
func (r *recordingLogger) Crit(f string, a ...any) bool    { r.add("crit", f, a...); return false }
func (r *recordingLogger) Err(f string, a ...any) bool     { return r.add("err", f, a...) }
func (r *recordingLogger) Warning(f string, a ...any) bool { return r.add("warning", f, a...) }
func (r *recordingLogger) Notice(f string, a ...any) bool  { return r.add("notice", f, a...) }
func (r *recordingLogger) Info(f string, a ...any) bool    { return r.add("info", f, a...) }
func (r *recordingLogger) Debug(f string, a ...any) bool   { return r.add("debug", f, a...) }

func (r *recordingLogger) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
