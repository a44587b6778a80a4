// Package logx provides leveled, component-scoped logging with env-controlled debug domains.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level identifies the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// debugConfig controls debug logging behavior, initialized from the environment.
type debugConfigT struct {
	Enabled bool
	Domains map[string]bool // nil = all domains
}

//nolint:gochecknoglobals // Package-level debug switches, set once at init
var (
	debugConfig debugConfigT
	debugMutex  sync.RWMutex
)

//nolint:gochecknoinits // Required for env var initialization
func init() {
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debug := os.Getenv("DEBUG")
	debugConfig.Enabled = debug == "1" || strings.EqualFold(debug, "true")

	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			if d = strings.TrimSpace(d); d != "" {
				debugConfig.Domains[d] = true
			}
		}
	}
}

// SetDebug enables or disables debug logging at runtime (used by the CLI -v flag).
func SetDebug(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

func debugEnabledFor(component string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[component]
}

// Logger writes leveled log lines tagged with a component name.
type Logger struct {
	component string
	logger    *log.Logger
}

// NewLogger creates a logger for the given component (e.g. "ratelimit", "bundle").
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0),
	}
}

// WithComponent returns a copy of the logger scoped to a different component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, logger: l.logger}
}

// Component returns the component name this logger is scoped to.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) log(level Level, format string, args ...any) {
	// Logging must never take down the request path.
	defer func() { _ = recover() }()

	ts := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s [%s] %s: %s", ts, level, l.component, msg)
}

// Debug logs a debug message if debug logging is enabled for this component.
func (l *Logger) Debug(format string, args ...any) {
	if debugEnabledFor(l.component) {
		l.log(LevelDebug, format, args...)
	}
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}
