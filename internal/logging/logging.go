// Package logging builds the arbor logger shared by the CLI and the engine.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// Config selects log level and outputs.
type Config struct {
	Level  string   // debug | info | warn | error
	Output []string // "console" and/or "file"
	Dir    string   // directory for the log file when "file" is selected
}

// DefaultConfig logs info and above to the console.
func DefaultConfig() Config {
	return Config{Level: "info", Output: []string{"console"}}
}

// New returns a configured logger. File output failures fall back to console.
func New(cfg Config) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFile, hasConsole := false, false
	for _, o := range cfg.Output {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "file":
			hasFile = true
		case "console", "stdout":
			hasConsole = true
		}
	}

	if hasFile {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil || cfg.Dir == "" {
			fmt.Fprintf(os.Stderr, "warning: log directory unavailable (%v); logging to console\n", err)
			hasConsole = true
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:             models.LogWriterTypeFile,
				FileName:         filepath.Join(cfg.Dir, "streamcast.log"),
				TimeFormat:       "15:04:05",
				MaxSize:          20 * 1024 * 1024,
				MaxBackups:       3,
				OutputType:       models.OutputFormatLogfmt,
				DisableTimestamp: false,
			})
		}
	}

	if hasConsole {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:             models.LogWriterTypeConsole,
			TimeFormat:       "15:04:05",
			DisableTimestamp: false,
		})
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	return logger.WithLevelFromString(level)
}

// Discard returns a logger with no writers, for tests and quiet paths.
func Discard() arbor.ILogger {
	return arbor.NewLogger()
}
