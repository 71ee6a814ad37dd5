package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Log Output
// --------------------------------------------------------------------------

// sink is the destination shared by all component loggers. Lines are written in
// one call each so that concurrent loggers never interleave.
type sink struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// logs go to stderr so that client commands keep stdout for their results
var output = &sink{w: os.Stderr}

func (s *sink) write(now time.Time, level, component, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = s.buf[:0]
	s.buf = now.AppendFormat(s.buf, "2006-01-02 15:04:05.000")
	s.buf = append(s.buf, ' ')
	s.buf = append(s.buf, fmt.Sprintf("%-5s %-8s ", level, component)...)
	s.buf = append(s.buf, strings.TrimRight(msg, "\n")...)
	s.buf = append(s.buf, '\n')
	_, _ = s.w.Write(s.buf)
}

// SetLogOutput redirects every component logger to w. A nil writer restores stderr.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	output.mu.Lock()
	output.w = w
	output.mu.Unlock()
}

// --------------------------------------------------------------------------
// Component Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

type kvsdLogger struct {
	component string
	level     atomic.Int32
}

func (l *kvsdLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *kvsdLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *kvsdLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		output.write(time.Now(), "DEBUG", l.component, fmt.Sprintf(format, args...))
	}
}

func (l *kvsdLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		output.write(time.Now(), "INFO", l.component, fmt.Sprintf(format, args...))
	}
}

func (l *kvsdLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		output.write(time.Now(), "WARN", l.component, fmt.Sprintf(format, args...))
	}
}

func (l *kvsdLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		output.write(time.Now(), "ERROR", l.component, fmt.Sprintf(format, args...))
	}
}

// Panicf logs regardless of the level, then panics
func (l *kvsdLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	output.write(time.Now(), "PANIC", l.component, msg)
	panic(msg)
}

// CreateLogger implements the logger.Factory function type
func CreateLogger(component string) logger.ILogger {
	l := &kvsdLogger{component: component}
	l.SetLevel(logger.INFO)
	return l
}

// --------------------------------------------------------------------------
// Levels
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// LogLevels is a default level plus per component overrides.
type LogLevels struct {
	Default    logger.LogLevel
	Components map[string]logger.LogLevel
}

// Of returns the level of component.
func (l LogLevels) Of(component string) logger.LogLevel {
	if lvl, ok := l.Components[component]; ok {
		return lvl
	}
	return l.Default
}

// ParseLogLevels parses a level setting such as "info" or "warn,server=debug,table=error".
// Entries without a component set the default, components must be known.
func ParseLogLevels(s string) (LogLevels, error) {
	levels := LogLevels{Default: logger.INFO, Components: map[string]logger.LogLevel{}}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		component, level, scoped := strings.Cut(part, "=")
		if !scoped {
			component, level = "", component
		}
		lvl, err := ParseLogLevel(level)
		if err != nil {
			return LogLevels{}, err
		}

		if !scoped {
			levels.Default = lvl
			continue
		}
		component = strings.TrimSpace(component)
		if !isComponent(component) {
			return LogLevels{}, fmt.Errorf("unknown log component %q. must be one of %s", component, strings.Join(Components, ", "))
		}
		levels.Components[component] = lvl
	}
	return levels, nil
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// Components lists the logger names used by kvsd packages
var Components = []string{"table", "core", "protocol", "server", "client", "cmd"}

func isComponent(name string) bool {
	for _, c := range Components {
		if c == name {
			return true
		}
	}
	return false
}

var factoryOnce sync.Once

// InitLoggers installs the kvsd logger factory and applies the level setting (see
// ParseLogLevels) to every component logger.
func InitLoggers(level string) error {
	levels, err := ParseLogLevels(level)
	if err != nil {
		return err
	}

	// Set as the global logger factory (only once, loggers may already be in use)
	factoryOnce.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, name := range Components {
		logger.GetLogger(name).SetLevel(levels.Of(name))
	}
	return nil
}
