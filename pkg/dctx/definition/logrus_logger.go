package definition

import "github.com/sirupsen/logrus"

// LogrusLogger backs the same Logger interface with a
// github.com/sirupsen/logrus.Logger, for applications that already run a
// structured-logging pipeline and want this library's output folded into
// it rather than going to a bare stderr writer.
type LogrusLogger struct {
	entry *logrus.Logger
	debug bool
}

// NewLogrusLogger wraps an existing *logrus.Logger. A nil logger gets a
// fresh logrus.New() with text output, matching logrus's own zero-value
// defaults.
func NewLogrusLogger(base *logrus.Logger) *LogrusLogger {
	if base == nil {
		base = logrus.New()
	}
	return &LogrusLogger{entry: base}
}

func (l *LogrusLogger) Info(v ...interface{})  { l.entry.Info(v...) }
func (l *LogrusLogger) Warn(v ...interface{})  { l.entry.Warn(v...) }
func (l *LogrusLogger) Error(v ...interface{}) { l.entry.Error(v...) }
func (l *LogrusLogger) Fatal(v ...interface{}) { l.entry.Fatal(v...) }

func (l *LogrusLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *LogrusLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *LogrusLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *LogrusLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }

func (l *LogrusLogger) Debug(v ...interface{}) {
	if l.debug {
		l.entry.Debug(v...)
	}
}

func (l *LogrusLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.entry.Debugf(format, v...)
	}
}

func (l *LogrusLogger) ToggleDebug(value bool) bool {
	l.debug = value
	if value {
		l.entry.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.SetLevel(logrus.InfoLevel)
	}
	return l.debug
}
