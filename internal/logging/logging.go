// Package logging holds the process-wide zerolog logger. Packages take a
// tagged child with Component when they are constructed.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger. Init replaces it.
var Logger zerolog.Logger

// Config selects the level and output format.
type Config struct {
	// Level is a zerolog level name. Empty or unknown names mean info.
	Level  string
	Pretty bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// Init replaces the global logger. Loggers handed out by Component before
// the call keep their old settings.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	Logger = zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

func parseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return Logger.Debug() }

func Info() *zerolog.Event { return Logger.Info() }

func Warn() *zerolog.Event { return Logger.Warn() }

func Error() *zerolog.Event { return Logger.Error() }

func init() {
	Init(Config{})
}
