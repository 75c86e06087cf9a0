package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunLog is a timestamped log file for a single CLI run.
type RunLog struct {
	logger   *Logger
	file     *os.File
	filePath string
}

// SetupFile creates a log file under logDir named splice_run_<timestamp>.log.
// Returns nil if logging is disabled (noLog=true).
func SetupFile(logDir string, verbose, noLog bool) (*RunLog, error) {
	if noLog {
		return nil, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filePath := filepath.Join(logDir, fmt.Sprintf("splice_run_%s.log", timestamp))

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", filePath, err)
	}

	level := LevelInfo
	if verbose {
		level = LevelDebug
	}

	r := &RunLog{
		logger:   New(Config{Level: level, Output: file, Enabled: true}),
		file:     file,
		filePath: filePath,
	}

	r.logger.Info("splice starting", slog.String("log_file", filePath))
	if verbose {
		r.logger.Debug("debug level logging enabled")
	}

	return r, nil
}

// Logger returns the file logger, or a discarding logger when r is nil.
func (r *RunLog) Logger() *Logger {
	if r == nil {
		return Discard()
	}
	return r.logger
}

// Close closes the log file.
func (r *RunLog) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// FilePath returns the path to the log file.
func (r *RunLog) FilePath() string {
	if r == nil {
		return ""
	}
	return r.filePath
}

// Writer returns an io.Writer that writes to the log file.
func (r *RunLog) Writer() io.Writer {
	if r == nil || r.file == nil {
		return io.Discard
	}
	return r.file
}
