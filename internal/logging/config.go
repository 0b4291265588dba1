package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Config selects level, encoding and destination. Empty fields fall back
// to DefaultConfig.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	// Output is stdout, stderr, discard or a file path opened for append.
	Output string `json:"output"`
}

// DefaultConfig returns INFO level JSON logging to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  string(InfoLevel),
		Format: string(JSONFormat),
		Output: "stderr",
	}
}

// NewLogger builds a Logger from cfg. Unknown levels and formats are
// rejected so a typo on the command line does not silently log at INFO.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return New(level, output).WithFormat(format), nil
}

// ParseLevel maps a case-insensitive level name to a LogLevel. The empty
// string is INFO.
func ParseLevel(s string) (LogLevel, error) {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case "", InfoLevel:
		return InfoLevel, nil
	case DebugLevel:
		return DebugLevel, nil
	case WarnLevel, "WARNING":
		return WarnLevel, nil
	case ErrorLevel:
		return ErrorLevel, nil
	case FatalLevel:
		return FatalLevel, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// ParseFormat maps a format name to a Format. The empty string is JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", JSONFormat:
		return JSONFormat, nil
	case TextFormat:
		return TextFormat, nil
	}
	return "", fmt.Errorf("unknown log format %q", s)
}

func openOutput(dest string) (io.Writer, error) {
	switch dest {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard":
		return io.Discard, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}
	return f, nil
}
