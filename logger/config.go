package logger

import (
	"io"
	"os"
)

// FileConfig holds log file rotation settings
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// Config holds logger configuration
type Config struct {
	Level        LogLevel
	Format       OutputFormat
	Subsystem    string
	Outputs      []io.Writer
	FileConfig   *FileConfig
	EnableCaller bool
}

// DefaultConfig returns a configuration suitable for development:
// info level, console format, stderr output.
func DefaultConfig() *Config {
	return &Config{
		Level:   InfoLevel,
		Format:  DefaultFormat,
		Outputs: []io.Writer{os.Stderr},
	}
}

// NewTestLogger returns a logger that discards all output.
// Intended for use in tests.
func NewTestLogger() Logger {
	return NewZerologLogger(&Config{
		Level:   TraceLevel,
		Format:  JSONFormat,
		Outputs: []io.Writer{io.Discard},
	})
}
