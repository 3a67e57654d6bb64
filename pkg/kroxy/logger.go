package kroxy

import "github.com/sirupsen/logrus"

// Logger is the logging surface the core uses. It is satisfied directly by
// *logrus.Entry and *logrus.Logger; callers that want structured
// per-connection fields should pass the result of WithFields.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// defaultLogger is used when a connection is constructed without an
// explicit Logger.
func defaultLogger() Logger {
	l := logrus.New()
	return l.WithField("component", "kroxy")
}
