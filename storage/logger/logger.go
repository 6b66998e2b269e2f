// Package logger centralizes structured warnings for conditions that
// are recoverable but worth an operator's attention; today its only
// caller is the firewood revision manager's deferred-reap warning. It
// is a thin wrapper over logrus so call sites read like
// logger.Warn("message", logrus.Fields{...}) rather than importing
// logrus directly everywhere.
package logger

import "github.com/sirupsen/logrus"

var std = logrus.StandardLogger()

// SetOutput lets a host application redirect where warnings go, e.g.
// to capture output instead of writing to stderr.
func SetOutput(l *logrus.Logger) {
	std = l
}

// Warn logs a recoverable condition with structured fields. Never used
// for control flow: the caller's logic must not depend on whether the
// log line succeeds.
func Warn(msg string, fields logrus.Fields) {
	std.WithFields(fields).Warn(msg)
}

// Info logs a routine lifecycle event (open, commit, reap).
func Info(msg string, fields logrus.Fields) {
	std.WithFields(fields).Info(msg)
}
