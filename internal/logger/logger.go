package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/chargectl/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.Nop()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// ParseLevel maps a configured level name to a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}

// Init initializes the logger based on the given configuration
func Init(level LogLevel, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	// journald stamps every line already
	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()
	SetLogLevel(level)
}

// InitWithWriter routes all output to w without console formatting.
func InitWithWriter(w io.Writer, level LogLevel) {
	log = zerolog.New(w).With().Timestamp().Logger()
	SetLogLevel(level)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Error(), err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Fatal(), err)}
}

func withCode(e *zerolog.Event, err errors.Error) *zerolog.Event {
	return e.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())
}

type componentLogger struct {
	zl zerolog.Logger
}

// Component returns a Logger tagging every event with the component name.
// It must be called after Init to pick up the configured output.
func Component(name string) Logger {
	return &componentLogger{zl: log.With().Str("component", name).Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &componentLogger{zl: zerolog.Nop()}
}

func (c *componentLogger) Debug() *LogEvent {
	return &LogEvent{c.zl.Debug()}
}

func (c *componentLogger) Info() *LogEvent {
	return &LogEvent{c.zl.Info()}
}

func (c *componentLogger) Warn() *LogEvent {
	return &LogEvent{c.zl.Warn()}
}

func (c *componentLogger) Error() *LogEvent {
	return &LogEvent{c.zl.Error()}
}

func (c *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(c.zl.Error(), err)}
}
