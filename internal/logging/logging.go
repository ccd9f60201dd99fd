// Package logging wires up the process-wide zerolog logger from the
// "logging" section of the config file: level, optional JSON encoding,
// optional file sink, and optional rotation via lumberjack.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"xtbridge/internal/config"
)

// New builds a zerolog.Logger from cfg. Callers typically assign the result
// to zerolog's global logger (or pass it down explicitly); xtbridge does the
// latter so tests can capture output without touching global state.
func New(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		if cfg.Rotate.Enabled {
			out = &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    megabytes(cfg.Rotate.MaxBytes),
				MaxBackups: cfg.Rotate.BackupCount,
				Compress:   true,
			}
		} else if f, ferr := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); ferr == nil {
			out = f
		}
	}

	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// megabytes converts a byte threshold into the megabyte units lumberjack
// expects, rounding down with a floor of 1 so a small configured value still
// rotates. A non-positive value yields 100.
func megabytes(b int) int {
	if b <= 0 {
		return 100
	}
	mb := b / (1024 * 1024)
	if mb < 1 {
		return 1
	}
	return mb
}
