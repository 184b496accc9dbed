package utils

import (
	"strings"

	logger "github.com/sirupsen/logrus"
)

// SetupLogger configures the standard logrus logger from LOG_LEVEL and
// LOG_FORMAT values. Unknown levels fall back to debug; format "json" selects
// the JSON formatter, anything else the text formatter.
func SetupLogger(levelStr, format string) {
	level, err := logger.ParseLevel(strings.ToLower(strings.TrimSpace(levelStr)))
	if err != nil {
		level = logger.DebugLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logger.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
		return
	}
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}
