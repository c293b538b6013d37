package internal

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// newLogger builds the handler selected by cfg.LogFormat. Text output is
// coloured only when f is a terminal.
func newLogger(cfg ApplicationConfig, f *os.File) *slog.Logger {
	if cfg.LogFormat == LogFormatText {
		return newTextLogger(cfg.LogLevel, f)
	}
	return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

func newTextLogger(level slog.Level, f *os.File) *slog.Logger {
	return slog.New(tint.NewHandler(f, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(f.Fd()),
	}))
}
