package util

import (
	"io"

	"github.com/charmbracelet/log"
)

func CloseAndLogErrors(source string, closer io.Closer) {
	if err := closer.Close(); err != nil {
		log.Error(source, "err", err)
	}
}

// SetupLogging applies a level name such as "debug" or "warn" to the default logger. Unknown names keep the
// current level.
func SetupLogging(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warn("Unrecognized log level, keeping default", "level", level)
		return
	}

	log.SetLevel(parsed)
	log.SetReportTimestamp(true)
}
