// Package logging provides a thin leveled wrapper over the standard library
// logger, matching the plain log.Printf style used throughout this codebase.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Level controls which messages a Logger actually writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger wraps a single *log.Logger with a minimum level and a component tag.
type Logger struct {
	out *log.Logger
	min Level
}

// New creates a Logger writing to stderr, tagged with the given component name.
func New(tag string, min Level) *Logger {
	return &Logger{
		out: log.New(os.Stderr, "["+tag+"] ", log.LstdFlags),
		min: min,
	}
}

func (l *Logger) log(level Level, prefix, format string, args ...any) {
	if l == nil || level < l.min {
		return
	}
	l.out.Printf(prefix+format, args...)
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, "DEBUG ", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, "INFO ", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, "WARN ", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, "ERROR ", format, args...) }

// Fatalf logs at error level and exits the process with status 3, matching
// the "internal error" exit code reserved for unexpected failures.
func (l *Logger) Fatalf(format string, args ...any) {
	l.log(LevelError, "ERROR ", format, args...)
	os.Exit(3)
}

// Sub returns a Logger with the same sink and level but a nested tag, e.g.
// base.Sub("analyzer") logs under "[base/analyzer] ".
func (l *Logger) Sub(tag string) *Logger {
	return &Logger{out: log.New(l.out.Writer(), fmt.Sprintf("%s[%s] ", l.out.Prefix(), tag), log.LstdFlags), min: l.min}
}
