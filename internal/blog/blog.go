// Package blog adapts the teacher's device.Logger call-site shape
// (Verbosef/Errorf) onto logrus, the structured logger used across the
// retrieval pack. Named blog (bad-vpn log) to avoid colliding with the
// stdlib log package that call sites here deliberately do not use.
package blog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is carried as a *Logger through components the way the
// teacher's Device carries a *Logger field; every method is safe for
// concurrent use since logrus.Entry is.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger builds a Logger that tags every line with component, the
// way the teacher tags verbosity level ("(device)", "(peer)") in its
// own format strings.
func NewLogger(component string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: l.WithField("component", component)}
}

// NewLoggerWithLevel additionally fixes the minimum level, used by
// tests that want to silence Verbosef noise.
func NewLoggerWithLevel(component string, level logrus.Level) *Logger {
	log := NewLogger(component)
	log.entry.Logger.SetLevel(level)
	return log
}

func (log *Logger) Verbosef(format string, args ...any) {
	log.entry.Debugf(format, args...)
}

func (log *Logger) Infof(format string, args ...any) {
	log.entry.Infof(format, args...)
}

func (log *Logger) Errorf(format string, args ...any) {
	log.entry.Errorf(format, args...)
}

// With returns a Logger that additionally tags every line with a
// peer/flow identifier, analogous to the teacher's per-peer log
// prefixes in peer.go.
func (log *Logger) With(key string, value any) *Logger {
	return &Logger{entry: log.entry.WithField(key, value)}
}
