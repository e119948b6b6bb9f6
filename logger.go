package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewAppLogger builds the process-wide logrus.Logger, configured the way
// the teacher's NewLogger configured its wrapped stdlib *log.Logger: plain
// text to stdout, timestamps on, level driven by a single knob.
//
// Grounded on the teacher's logger.go global-singleton pattern
// (GetLogger/SetLogger), adapted to wrap github.com/sirupsen/logrus instead
// of the stdlib log package, matching the library every other package in
// this module already uses for structured logging.
func NewAppLogger(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

var defaultLogger = NewAppLogger(logrus.InfoLevel)

// GetLogger returns the global logger. main reads it after installing the
// level-configured logger and passes it on to gcm.NewLogReporter.
func GetLogger() *logrus.Logger {
	return defaultLogger
}

// SetLogger replaces the global logger, primarily for tests that want to
// capture or silence output.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}
