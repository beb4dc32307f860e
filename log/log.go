package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	charmlog "charm.land/log/v2"
)

// Handler is the [slog.Handler] type produced by this package.
type Handler = slog.Handler

// Level is a log severity name.
type Level string

// Supported levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs as JSON objects.
	FormatJSON Format = "json"
	// FormatLogfmt outputs logs in logfmt format.
	FormatLogfmt Format = "logfmt"
	// FormatText outputs human readable, aligned lines.
	FormatText Format = "text"
)

var (
	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownLogLevel indicates an unrecognized log level string.
	ErrUnknownLogLevel = errors.New("unknown log level")
	// ErrUnknownLogFormat indicates an unrecognized log format string.
	ErrUnknownLogFormat = errors.New("unknown log format")
)

var (
	allLevels  = []Level{LevelError, LevelWarn, LevelInfo, LevelDebug}
	allFormats = []Format{FormatJSON, FormatLogfmt, FormatText}
)

// GetAllLevelStrings returns the accepted level names, most severe first.
func GetAllLevelStrings() []string {
	out := make([]string, 0, len(allLevels))
	for _, l := range allLevels {
		out = append(out, string(l))
	}

	return out
}

// GetAllFormatStrings returns the accepted format names.
func GetAllFormatStrings() []string {
	out := make([]string, 0, len(allFormats))
	for _, f := range allFormats {
		out = append(out, string(f))
	}

	return out
}

// NewHandlerFromStrings creates a [Handler] from level and format names.
func NewHandlerFromStrings(w io.Writer, logLevel, logFormat string) (Handler, error) {
	lvl, err := ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	logFmt, err := ParseFormat(logFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return NewHandler(w, lvl, logFmt), nil
}

// NewHandler creates a [Handler] with the specified level and format.
// Unknown formats fall back to [FormatLogfmt].
func NewHandler(w io.Writer, lvl Level, logFmt Format) Handler {
	slvl := lvl.slog()

	switch logFmt {
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource: true,
			Level:     slvl,
		})

	case FormatText:
		return charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(slvl),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
		})

	case FormatLogfmt:
	}

	return slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     slvl,
	})
}

// ParseLevel parses a log level name, case-insensitively. "warning" is
// accepted as an alias of [LevelWarn].
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}

	return "", ErrUnknownLogLevel
}

// ParseFormat parses a log format name, case-insensitively.
func ParseFormat(format string) (Format, error) {
	logFmt := Format(strings.ToLower(format))
	for _, f := range allFormats {
		if f == logFmt {
			return logFmt, nil
		}
	}

	return "", ErrUnknownLogFormat
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
	}

	return slog.LevelInfo
}
