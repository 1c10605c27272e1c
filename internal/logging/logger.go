// Package logging implements the daemon log: syslog severities, positional and
// {config.key} interpolation, and one line per record in an append-only file.
//
// Line format:
//
//	[Oct 17 03:01:00]     info: Starting worker1 daemon
//	[Oct 17 03:01:00]      err: Unable to write pidfile [l:42]
package logging

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// Record is one log request with optional source provenance.
type Record struct {
	Level    domain.Severity
	Template string
	Values   []any
	File     string
	Line     int
	Function string
}

// Options configures a Logger.
type Options struct {
	// Stdout receives foreground echoes. Defaults to os.Stdout.
	Stdout io.Writer
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Logger writes daemon log records. It is safe for concurrent use.
type Logger struct {
	cfg   *config.DaemonConfig
	level zap.AtomicLevel
	now   func() time.Time

	mu       sync.Mutex
	sink     *lumberjack.Logger
	fileCore zapcore.Core
	echoCore zapcore.Core
	touched  bool

	inBackground func() bool
	onEmergency  func()
}

// New creates a Logger for cfg. The log file is not touched until the first record.
func New(cfg *config.DaemonConfig, opts Options) *Logger {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	enc := zapcore.NewConsoleEncoder(encoderConfig())
	level := zap.NewAtomicLevelAt(zapLevel(cfg.Verbosity()))
	sink := &lumberjack.Logger{
		Filename:   cfg.LogLocation,
		MaxSize:    maxSizeMB(cfg.LogMaxSizeMB),
		MaxBackups: cfg.LogMaxBackups,
	}
	debug := zapLevel(domain.SevDebug)

	return &Logger{
		cfg:      cfg,
		level:    level,
		now:      opts.Now,
		sink:     sink,
		fileCore: zapcore.NewCore(enc, zapcore.AddSync(sink), level),
		echoCore: zapcore.NewCore(enc.Clone(), zapcore.Lock(zapcore.AddSync(opts.Stdout)),
			zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l > debug })),
		inBackground: func() bool { return false },
	}
}

// noRotationMB keeps lumberjack from ever rolling the file over.
const noRotationMB = math.MaxInt32

// maxSizeMB maps logMaxSizeMB onto lumberjack, where 0 would mean its 100 MB default.
func maxSizeMB(mb int) int {
	if mb <= 0 {
		return noRotationMB
	}
	return mb
}

// SetBackground installs the predicate telling whether this process is the detached daemon.
func (l *Logger) SetBackground(fn func() bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inBackground = fn
}

// SetEmergencyHook installs the die sequence run after an emerg record in the background process.
func (l *Logger) SetEmergencyHook(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEmergency = fn
}

// SetVerbosity changes the threshold at runtime.
func (l *Logger) SetVerbosity(s domain.Severity) {
	l.level.SetLevel(zapLevel(s))
}

// Enabled reports whether a record at s would be written.
func (l *Logger) Enabled(s domain.Severity) bool {
	return l.level.Enabled(zapLevel(s))
}

// Close releases the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Close()
}

// Log writes one record with caller provenance. It returns true when the record was
// suppressed or fully written, false when the log file could not be written.
func (l *Logger) Log(level domain.Severity, format string, args ...any) bool {
	return l.Write(l.record(2, level, format, args))
}

// Write emits rec. Suppressed records return true without touching any output.
func (l *Logger) Write(rec Record) bool {
	if !rec.Level.Valid() {
		rec = Record{Level: domain.SevEmerg, Template: "No such loglevel: " + rec.Level.String()}
	}
	if !l.Enabled(rec.Level) {
		return true
	}

	msg := l.cfg.Expand(Interpolate(rec.Template, rec.Values...)) + l.tail(rec)
	ent := zapcore.Entry{Level: zapLevel(rec.Level), Time: l.now(), Message: msg}
	nonDebug := rec.Level < domain.SevDebug

	l.mu.Lock()
	background := l.inBackground()
	ok, echoed := true, false

	if !background && nonDebug {
		_ = l.echoCore.Write(ent, nil)
		echoed = true
	}
	if err := l.ensureFile(); err != nil || unix.Access(l.cfg.LogLocation, unix.W_OK) != nil {
		if nonDebug && !echoed {
			_ = l.echoCore.Write(ent, nil)
		}
		ok = false
	} else if err := l.fileCore.Write(ent, nil); err != nil {
		ok = false
	}
	hook := l.onEmergency
	l.mu.Unlock()

	if rec.Level == domain.SevEmerg && background && hook != nil {
		hook()
	}
	return ok
}

// record captures the call site skip frames above itself.
func (l *Logger) record(skip int, level domain.Severity, format string, args []any) Record {
	rec := Record{Level: level, Template: format, Values: args}
	if pc, file, line, ok := runtime.Caller(skip); ok {
		rec.File, rec.Line = file, line
		if fn := runtime.FuncForPC(pc); fn != nil {
			rec.Function = fn.Name()
		}
	}
	return rec
}

// tail appends file/line provenance to records more severe than notice.
func (l *Logger) tail(rec Record) string {
	if rec.Level >= domain.SevNotice {
		return ""
	}
	var b strings.Builder
	if l.cfg.LogFilePosition && rec.File != "" {
		file := rec.File
		if l.cfg.LogTrimAppDir && l.cfg.AppDir != "" {
			file = strings.TrimPrefix(file, strings.TrimSuffix(l.cfg.AppDir, "/")+"/")
		}
		fmt.Fprintf(&b, " [f:%s]", file)
	}
	if l.cfg.LogLinePosition && rec.Line > 0 {
		fmt.Fprintf(&b, " [l:%d]", rec.Line)
	}
	return b.String()
}

// ensureFile creates the log file on first use and hands it to the run-as identity.
// Caller holds l.mu.
func (l *Logger) ensureFile() error {
	if l.touched {
		return nil
	}
	path := l.cfg.LogLocation
	if path == "" {
		return fmt.Errorf("%w: no logLocation configured", domain.ErrLogWriteFailed)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrLogWriteFailed, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrLogWriteFailed, err)
		}
		f.Close()
		// Best effort: only root can hand files to another identity.
		_ = os.Chown(path, l.cfg.UID(), l.cfg.GID())
	}
	l.touched = true
	return nil
}

func (l *Logger) Emerg(format string, args ...any) bool {
	l.Write(l.record(2, domain.SevEmerg, format, args))
	return false
}

func (l *Logger) Alert(format string, args ...any) bool {
	l.Write(l.record(2, domain.SevAlert, format, args))
	return false
}

func (l *Logger) Crit(format string, args ...any) bool {
	l.Write(l.record(2, domain.SevCrit, format, args))
	return false
}

func (l *Logger) Err(format string, args ...any) bool {
	l.Write(l.record(2, domain.SevErr, format, args))
	return true
}

func (l *Logger) Warning(format string, args ...any) bool {
	l.Write(l.record(2, domain.SevWarning, format, args))
	return true
}

func (l *Logger) Notice(format string, args ...any) bool {
	l.Write(l.record(2, domain.SevNotice, format, args))
	return true
}

func (l *Logger) Info(format string, args ...any) bool {
	l.Write(l.record(2, domain.SevInfo, format, args))
	return true
}

func (l *Logger) Debug(format string, args ...any) bool {
	l.Write(l.record(2, domain.SevDebug, format, args))
	return true
}

var _ domain.Logger = (*Logger)(nil)
