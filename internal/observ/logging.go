package observ

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerOnce sync.Once
	logger     zerolog.Logger
)

func getLogger() zerolog.Logger {
	loggerOnce.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	return logger
}

// Log preserves the event+kv call shape every existing call site uses,
// now backed by zerolog instead of a hand-rolled JSON printer.
func Log(event string, kv map[string]any) {
	evt := getLogger().Info().Str("event", event)
	for k, v := range kv {
		evt = evt.Interface(k, v)
	}
	evt.Send()
}

// LogError is the same shape as Log but at error level, for call sites
// reporting a failure alongside structured context.
func LogError(event string, err error, kv map[string]any) {
	evt := getLogger().Error().Str("event", event).Err(err)
	for k, v := range kv {
		evt = evt.Interface(k, v)
	}
	evt.Send()
}
