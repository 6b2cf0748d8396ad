package logging

// Leveled logging for plcaudit

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

// ParseLevel maps a config or flag value to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "quiet", "off":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "", "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelSilent:
		return "silent"
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelVerbose:
		return "verbose"
	case LogLevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// FileOptions controls the rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// NoConsole sends output only to the file, e.g. while a full-screen
	// dashboard owns the terminal.
	NoConsole bool
}

// Logger provides leveled logging to the console and an optional rotating file
type Logger struct {
	mu      sync.Mutex
	level   LogLevel
	file    io.WriteCloser
	fileLog *log.Logger
	stdout  *log.Logger
	stderr  *log.Logger
}

// NewLogger creates a new logger. logFile may be empty.
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return NewLoggerWithFile(level, FileOptions{Path: logFile})
}

// NewLoggerWithFile creates a logger whose file output rotates according to opts.
func NewLoggerWithFile(level LogLevel, opts FileOptions) (*Logger, error) {
	l := &Logger{
		level:  level,
		stdout: log.New(os.Stdout, "", 0),
		stderr: log.New(os.Stderr, "", 0),
	}
	if opts.NoConsole {
		l.stdout = log.New(io.Discard, "", 0)
		l.stderr = l.stdout
	}

	if opts.Path != "" {
		// lumberjack opens lazily; fail now on an unusable path instead of at the first write
		probe, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		probe.Close()

		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 50
		}
		file := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		l.file = file
		l.fileLog = log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	}

	return l, nil
}

// NewWriterLogger sends every message at or below level to w, errors included.
func NewWriterLogger(level LogLevel, w io.Writer) *Logger {
	out := log.New(w, "", 0)
	return &Logger{level: level, stdout: out, stderr: out}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriterLogger(LogLevelSilent, io.Discard)
}

// Close closes the logger and flushes all data
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(LogLevelError) {
		l.write(fmt.Sprintf("ERROR: "+format, v...), true)
	}
}

// Warn logs a warning
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.enabled(LogLevelWarn) {
		l.write(fmt.Sprintf("WARN: "+format, v...), true)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(LogLevelInfo) {
		l.write(fmt.Sprintf("INFO: "+format, v...), false)
	}
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	if l.enabled(LogLevelVerbose) {
		l.write(fmt.Sprintf("VERBOSE: "+format, v...), false)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(LogLevelDebug) {
		l.write(fmt.Sprintf("DEBUG: "+format, v...), false)
	}
}

func (l *Logger) enabled(level LogLevel) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level >= level
}

// write writes a message to the file, if any, and to the console
func (l *Logger) write(msg string, isError bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLog != nil {
		l.fileLog.Println(msg)
	}
	if isError {
		l.stderr.Println(msg)
	} else {
		l.stdout.Println(msg)
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// LogTransaction logs one tag service round trip. Successes are verbose,
// failures are warnings.
func (l *Logger) LogTransaction(operation, tag string, rtt time.Duration, err error) {
	ms := float64(rtt.Microseconds()) / 1000.0
	if err == nil {
		l.Verbose("OK %s %s (RTT: %.3fms)", operation, tag, ms)
		return
	}
	l.Warn("FAILED %s %s (RTT: %.3fms) - error: %v", operation, tag, ms, err)
}

// LogStartup logs the monitor's effective settings
func (l *Logger) LogStartup(target string, base string, pollMs, threshold int, configPath string) {
	l.Info("Starting plcaudit monitor")
	l.Verbose("  Target: %s", target)
	l.Verbose("  Base tag: %s", base)
	l.Verbose("  Poll period: %d ms", pollMs)
	l.Verbose("  Failure threshold: %d", threshold)
	l.Verbose("  Config: %s", configPath)
}

// LogHex logs hex data (for debug level)
func (l *Logger) LogHex(label string, data []byte) {
	if !l.enabled(LogLevelDebug) {
		return
	}
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	l.Debug("%s: %s", label, b.String())
}
