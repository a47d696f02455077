// Package definition holds the Logger interface Context is opened with,
// plus two implementations: a dependency-free default and a logrus-backed
// one for applications that already standardized on logrus.
package definition

import (
	"fmt"
	"log"
	"os"
)

const calldepth = 2

const (
	levelInfo  = "INFO"
	levelWarn  = "WARN"
	levelError = "ERROR"
	levelDebug = "DEBUG"
	levelFatal = "FATAL"
)

// Logger is the logging surface a Context is opened with. An embedding
// application may supply its own implementation; DefaultLogger is used if
// none is given.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	// ToggleDebug sets whether Debug/Debugf actually emit, returning the
	// new state.
	ToggleDebug(value bool) bool
}

func level(prefix, message string) string {
	return fmt.Sprintf("[%s]: %s", prefix, message)
}

// DefaultLogger wraps the standard library's *log.Logger with level
// prefixes, writing to stderr unless constructed otherwise.
type DefaultLogger struct {
	*log.Logger
	debug bool
}

// NewDefaultLogger returns the zero-configuration logger a Context falls
// back to when none is supplied.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		Logger: log.New(os.Stderr, "dctx ", log.LstdFlags),
		debug:  false,
	}
}

func (l *DefaultLogger) Info(v ...interface{}) {
	l.Output(calldepth, level(levelInfo, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.Output(calldepth, level(levelInfo, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	l.Output(calldepth, level(levelWarn, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.Output(calldepth, level(levelWarn, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Error(v ...interface{}) {
	l.Output(calldepth, level(levelError, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.Output(calldepth, level(levelError, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.Output(calldepth, level(levelDebug, fmt.Sprint(v...)))
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.Output(calldepth, level(levelDebug, fmt.Sprintf(format, v...)))
	}
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	l.Output(calldepth, level(levelFatal, fmt.Sprint(v...)))
	os.Exit(1)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.Output(calldepth, level(levelFatal, fmt.Sprintf(format, v...)))
	os.Exit(1)
}

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}
