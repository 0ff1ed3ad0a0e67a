package log

import (
	log "github.com/sirupsen/logrus"
)

// GetLevel maps a -v count to a log level.
func GetLevel(verbose int) log.Level {
	var level log.Level
	switch verbose {
	case 0:
		level = log.InfoLevel
	case 1:
		level = log.DebugLevel
	case 2:
		level = log.TraceLevel
	default:
		level = log.TraceLevel
	}
	return level
}

// New returns a root entry for the given verbosity, tagged with the component name.
func New(verbose int, component string) *log.Entry {
	logger := log.New()
	logger.SetLevel(GetLevel(verbose))
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return logger.WithField("component", component)
}
