package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the process logger with the app name. The writer and
// level come from the logging package, which must be configured first.
func InitLogger(app string) zerolog.Logger {
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Component derives a child logger for one subsystem.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
