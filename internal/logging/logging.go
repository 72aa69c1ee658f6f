// Package logging provides the global logger for tldr.
// Use dot import to access L_info, L_error, etc. directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var (
	logger *log.Logger
	mu     sync.Mutex
	sink   *lumberjack.Logger
)

// Defaults for the log file, in megabytes and rotated files kept.
const (
	DefaultMaxSizeMB  = 5
	DefaultMaxBackups = 5
)

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level      int
	TimeFormat string
	ShowCaller bool

	// File, when set, receives a copy of every line in addition to stderr.
	// It is rotated once it grows past MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// DefaultLoggerConfig returns the defaults used before configuration is loaded.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      LevelInfo,
		TimeFormat: "2006-01-02 15:04:05",
		ShowCaller: false,
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
	}
}

// ParseLevel maps a level name from configuration to a Level constant.
// Unknown names fall back to info.
func ParseLevel(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
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

// Init (re)initializes the global logger. Calling it again replaces the
// previous logger and closes any previously opened log file.
func Init(cfg *LoggerConfig) error {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}

	var out io.Writer = os.Stderr
	var file *lumberjack.Logger
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0750); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		maxSize, maxBackups := cfg.MaxSizeMB, cfg.MaxBackups
		if maxSize <= 0 {
			maxSize = DefaultMaxSizeMB
		}
		if maxBackups < 0 {
			maxBackups = DefaultMaxBackups
		}
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			LocalTime:  true,
		}
		out = io.MultiWriter(os.Stderr, file)
	}

	l := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.ShowCaller,
		CallerOffset:    2, // logMsg -> L_* -> caller
	})
	l.SetLevel(charmLevel(cfg.Level))

	mu.Lock()
	old := sink
	logger = l
	sink = file
	mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Rotate closes the current log file, moves it aside with a timestamp and
// starts a new one. It is a no-op when logging to stderr only.
func Rotate() error {
	mu.Lock()
	defer mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Rotate()
}

// Close flushes and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		sink.Close()
		sink = nil
	}
}

func charmLevel(level int) log.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError, LevelFatal:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func current() *log.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		return l
	}
	_ = Init(nil)
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// hasFmtVerb checks if a string contains printf-style format verbs
func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' {
			next := s[i+1]
			if next != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(next)) {
				return true
			}
		}
	}
	return false
}

// logMsg accepts three call shapes:
//   - logMsg(level, "message")
//   - logMsg(level, "value is %d", 42)
//   - logMsg(level, "loaded", "key", val, ...)
func logMsg(level log.Level, msg string, args ...interface{}) {
	l := current()

	var keyvals []interface{}
	switch {
	case len(args) == 0:
	case hasFmtVerb(msg):
		msg = fmt.Sprintf(msg, args...)
	default:
		keyvals = args
	}

	switch level {
	case log.DebugLevel:
		l.Debug(msg, keyvals...)
	case log.InfoLevel:
		l.Info(msg, keyvals...)
	case log.WarnLevel:
		l.Warn(msg, keyvals...)
	case log.ErrorLevel:
		l.Error(msg, keyvals...)
	case log.FatalLevel:
		Close()
		l.Fatal(msg, keyvals...)
	}
}

// L_trace logs at trace level (mapped to debug)
func L_trace(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_debug logs at debug level
func L_debug(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_info logs at info level
func L_info(msg string, args ...interface{}) {
	logMsg(log.InfoLevel, msg, args...)
}

// L_warn logs at warn level
func L_warn(msg string, args ...interface{}) {
	logMsg(log.WarnLevel, msg, args...)
}

// L_error logs at error level
func L_error(msg string, args ...interface{}) {
	logMsg(log.ErrorLevel, msg, args...)
}

// L_fatal logs at fatal level and exits
func L_fatal(msg string, args ...interface{}) {
	logMsg(log.FatalLevel, msg, args...)
}

// SetLevel changes the log level at runtime
func SetLevel(level int) {
	current().SetLevel(charmLevel(level))
}

// L_elapsed logs at info level with the time elapsed since start appended.
func L_elapsed(start time.Time, msg string, args ...interface{}) {
	args = append(args, "elapsed", time.Since(start).Round(time.Millisecond).String())
	logMsg(log.InfoLevel, msg, args...)
}
