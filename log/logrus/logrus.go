package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/cachegraph/log"
)

var _ log.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps a logrus logger and tags every entry with component=cachegraph.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "cachegraph")}
}

func (l LogrusLogger) Debug(msg string, f log.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f log.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f log.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f log.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
