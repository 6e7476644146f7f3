package logging

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the log severity. Messages below the configured level are dropped.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var currentLevel atomic.Int32

func init() {
	lvl := LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		lvl = ParseLevel(v)
	}
	currentLevel.Store(int32(lvl))
}

// ParseLevel maps a level name to a Level. Unknown names map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// SetLevel changes the process-wide log level.
func SetLevel(l Level) {
	currentLevel.Store(int32(l))
}

// Logger tags every line with its subsystem, e.g. "[pool] checkout timeout".
// Components receive a Logger explicitly rather than logging through a
// package global.
type Logger struct {
	subsystem string
}

// New returns a logger for the given subsystem.
func New(subsystem string) *Logger {
	return &Logger{subsystem: subsystem}
}

func (l *Logger) logf(lvl Level, tag, format string, args ...any) {
	if int32(lvl) < currentLevel.Load() {
		return
	}
	log.Printf("[%s] %s"+format, append([]any{l.subsystem, tag}, args...)...)
}

// Tracef logs at trace level.
func (l *Logger) Tracef(format string, args ...any) {
	l.logf(LevelTrace, "TRACE ", format, args...)
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.logf(LevelDebug, "DEBUG ", format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) {
	l.logf(LevelInfo, "", format, args...)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...any) {
	l.logf(LevelWarn, "WARN ", format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.logf(LevelError, "ERROR ", format, args...)
}

// Fatalf logs at fatal level and exits.
func (l *Logger) Fatalf(format string, args ...any) {
	l.logf(LevelFatal, "FATAL ", format, args...)
	os.Exit(1)
}

// Truncate shortens a string to maxLen for one-line logs.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
