package logger

import "log/slog"

// Slog routes engine logs into a log/slog handler, so an application that
// already owns an slog pipeline keeps one sink for everything.
type Slog struct {
	l *slog.Logger
}

// NewSlog returns a Logger backed by h.
func NewSlog(h slog.Handler) *Slog {
	return &Slog{l: slog.New(h)}
}

func (s *Slog) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *Slog) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *Slog) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *Slog) Error(msg string, args ...any) { s.l.Error(msg, args...) }
