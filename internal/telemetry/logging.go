package telemetry

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// SetupLogging configures the global apex logger. Development gets
// human-readable output, everything else JSON lines.
func SetupLogging(level string, development bool) {
	if development {
		log.SetHandler(text.New(os.Stderr))
	} else {
		log.SetHandler(json.New(os.Stderr))
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
