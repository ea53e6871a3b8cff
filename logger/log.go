package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
)

// Logger is the process-wide logger. main replaces it via SetupLogger; the
// default writes to stderr so library code never hits a nil logger.
var Logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))

const (
	FilePermission = 0644
	DirPermission  = 0755
)

func SetupLogger(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	opts := &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02 15:04:05",
	}

	Logger = slog.New(tint.NewHandler(w, opts))
}

// SetupLogWriter returns the writer logs should go to. With a log path the
// writer duplicates output to stdout and the file; the file handle is
// returned so the caller can close it on exit.
func SetupLogWriter(logPath string) (io.Writer, *os.File, error) {
	if logPath == "" {
		return os.Stdout, nil, nil
	}

	logDir := filepath.Dir(logPath)
	if logDir != "." && logDir != "" {
		if err := os.MkdirAll(logDir, DirPermission); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FilePermission)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return io.MultiWriter(os.Stdout, logFile), logFile, nil
}
