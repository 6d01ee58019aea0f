// Package logging provides a small leveled logger used across the daemon
// and client so that every component logs through the same interface.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used throughout the module. Components
// never depend on logrus directly; they depend on this interface and get
// a module-scoped child via Module.
type Logger interface {
	SetToDebug()
	SetToInfo()
	SetToError()
	Module(ns string) Logger
	Debug(msg string, keyValues ...interface{})
	Info(msg string, keyValues ...interface{})
	Warn(msg string, keyValues ...interface{})
	Error(msg string, keyValues ...interface{})
	Fatal(msg string, keyValues ...interface{})
}

// logrusLogger is a Logger backed by logrus.
type logrusLogger struct {
	entry *logrus.Entry
}

// New creates a new root Logger that writes to stderr.
func New() Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Module returns a child logger that tags every entry with the given
// module name, mirroring cfg.G().Log.Module("host") in the reference
// daemon this module is derived from.
func (l *logrusLogger) Module(ns string) Logger {
	return &logrusLogger{entry: l.entry.WithField("module", ns)}
}

func (l *logrusLogger) SetToDebug() { l.entry.Logger.SetLevel(logrus.DebugLevel) }
func (l *logrusLogger) SetToInfo()  { l.entry.Logger.SetLevel(logrus.InfoLevel) }
func (l *logrusLogger) SetToError() { l.entry.Logger.SetLevel(logrus.ErrorLevel) }

// fields turns a flat "key", value, "key", value... list into logrus.Fields.
func fields(keyValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keyValues[i+1]
	}
	return f
}

func (l *logrusLogger) Debug(msg string, kv ...interface{}) {
	l.entry.WithFields(fields(kv)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, kv ...interface{}) {
	l.entry.WithFields(fields(kv)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, kv ...interface{}) {
	l.entry.WithFields(fields(kv)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, kv ...interface{}) {
	l.entry.WithFields(fields(kv)).Error(msg)
}

func (l *logrusLogger) Fatal(msg string, kv ...interface{}) {
	l.entry.WithFields(fields(kv)).Fatal(msg)
}
