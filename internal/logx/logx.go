// Package logx is CaretForge's logging facade. It deliberately wraps only
// the standard library's log package: dcode itself never imports a
// third-party logging library across its entire tree, writing every
// diagnostic with fmt.Fprintf(os.Stderr, ...) instead. This package
// formalizes that same pattern behind a small leveled API so call sites
// don't repeat the os.Stderr plumbing, without introducing a dependency
// dcode never reaches for.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "LOG"
	}
}

// Logger writes leveled lines to the writer given to New (stderr for the
// package-level default). The zero value has no writer: logging an error
// through it panics.
type Logger struct {
	mu     sync.Mutex
	level  Level
	out    *log.Logger
	traced bool
}

var std = New(LevelInfo, os.Stderr)

// New creates a Logger writing to w, only emitting lines at or below level.
func New(level Level, w io.Writer) *Logger {
	return &Logger{level: level, out: log.New(w, "", log.LstdFlags)}
}

// SetTrace enables debug-level output, matching the CLI's --trace flag.
func (l *Logger) SetTrace(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.traced = on
	if on {
		l.level = LevelDebug
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Default returns the package-level logger used by components that don't
// carry their own injected Logger.
func Default() *Logger { return std }

func SetTrace(on bool)                { std.SetTrace(on) }
func Error(format string, args ...any) { std.Error(format, args...) }
func Warn(format string, args ...any)  { std.Warn(format, args...) }
func Info(format string, args ...any)  { std.Info(format, args...) }
func Debug(format string, args ...any) { std.Debug(format, args...) }
