// Package logging provides the framework's structured logging facade.
//
// The interface shape is the one the teacher passes through every
// subsystem constructor (Debug/Info/Warn/Error with a leveled message
// and loosely-typed key/value pairs); the backing implementation is
// zerolog rather than the teacher's log.Printf stub, giving leveled,
// JSON-structured output suitable for a long-running server process.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging contract every package depends on.
// No package holds a concrete logger type, only this interface.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// With returns a child logger with the given key/value pairs bound
	// to every subsequent entry.
	With(keysAndValues ...any) Logger
}

type zlogger struct {
	z zerolog.Logger
}

// New creates a Logger writing JSON lines to w.
func New(w io.Writer) Logger {
	z := zerolog.New(w).With().Timestamp().Logger()
	return &zlogger{z: z}
}

// NewConsole creates a Logger writing human-readable console output to
// stderr — suitable for local development / CLI usage.
func NewConsole() Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return &zlogger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// Noop returns a Logger that discards everything.
func Noop() Logger {
	return &zlogger{z: zerolog.Nop()}
}

func (l *zlogger) event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (l *zlogger) Debug(msg string, kv ...any) { l.event(l.z.Debug(), msg, kv) }
func (l *zlogger) Info(msg string, kv ...any)  { l.event(l.z.Info(), msg, kv) }
func (l *zlogger) Warn(msg string, kv ...any)  { l.event(l.z.Warn(), msg, kv) }
func (l *zlogger) Error(msg string, kv ...any) { l.event(l.z.Error(), msg, kv) }

func (l *zlogger) With(kv ...any) Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zlogger{z: ctx.Logger()}
}
