package logger

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Logger is the minimal logging surface used across the engine.
// Arguments are alternating key/value pairs, log/slog style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ZeroLogger is the default Logger backed by zerolog.
type ZeroLogger struct {
	logger zerolog.Logger
}

// New returns a ZeroLogger writing structured JSON lines to w.
func New(w io.Writer) *ZeroLogger {
	return &ZeroLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// FromZerolog wraps an already configured zerolog.Logger.
func FromZerolog(l zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{logger: l}
}

func (l *ZeroLogger) Debug(msg string, args ...any) { emit(l.logger.Debug(), msg, args) }
func (l *ZeroLogger) Info(msg string, args ...any)  { emit(l.logger.Info(), msg, args) }
func (l *ZeroLogger) Warn(msg string, args ...any)  { emit(l.logger.Warn(), msg, args) }
func (l *ZeroLogger) Error(msg string, args ...any) { emit(l.logger.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

// Nop discards everything. Useful in tests.
func Nop() Logger {
	return &ZeroLogger{logger: zerolog.Nop()}
}
