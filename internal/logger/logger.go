// Package logger constructs the zerolog loggers used across the session
// core: colored console output during development, JSON in production.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35
	colorBold    = 1
)

var levelColors = map[string]int{
	"trace": colorMagenta,
	"debug": colorYellow,
	"info":  colorGreen,
	"warn":  colorRed,
	"error": colorRed,
	"fatal": colorRed,
	"panic": colorRed,
}

func colorize(s string, c int) string {
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", c, s)
}

// New creates a logger based on the ENV environment variable.
func New() zerolog.Logger {
	env := os.Getenv("ENV")
	if env == "development" || env == "dev" || env == "" {
		return NewDevelopment()
	}
	return NewProduction()
}

// NewDevelopment creates a console logger with colored level tags.
func NewDevelopment() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			level, ok := i.(string)
			if !ok {
				return strings.ToUpper(fmt.Sprintf("%s", i))
			}
			tag := strings.ToUpper(level)
			if len(tag) > 3 {
				tag = tag[:3]
			}
			if c, ok := levelColors[level]; ok {
				return colorize(tag, c)
			}
			return colorize(tag, colorBold)
		},
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NewProduction creates a JSON logger with UNIX timestamps.
func NewProduction() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
