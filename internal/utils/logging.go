package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SetupLogger installs a tinted stdout handler as the default slog logger.
// When logFile is set, records are also written there as plain text.
// The returned closer must be closed on exit.
func SetupLogger(level slog.Level, logFile string) (io.Closer, error) {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	if logFile == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return io.NopCloser(nil), nil
	}

	if err := EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(NewMultiLogHandler(stdoutHandler, fileHandler)))
	return file, nil
}
