package obs

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. Format "console" is for local
// development; anything else keeps the default JSON output.
func Setup(level, format string) {
	if strings.EqualFold(format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if level != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			zerolog.SetGlobalLevel(lvl)
		} else {
			log.Warn().Str("level", level).Msg("unknown log level, using info")
		}
	}
}
