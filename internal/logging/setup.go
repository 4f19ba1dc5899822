// Package logging wires structured request logging, panic recovery, and
// log-file rotation on top of logrus.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global logrus logger: JSON output when logPath is
// set (so the file stream stays machine-parseable) and a human-readable
// text formatter on stderr otherwise. A non-empty logPath also writes to
// stdout so an operator running in a foreground terminal still sees output.
func Setup(level string, logPath string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	if logPath == "" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		log.SetOutput(os.Stderr)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
}
