// Package logging wires the server's ambient diagnostics to
// github.com/joeycumines/logiface, using the stumpy backend for JSON-lines
// output. It is the structured logger cmd/httploopd bridges eventloop.Logger
// (and its own higher-level events) into.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/joeycumines/go-httploop/eventloop"
)

// Level mirrors the subset of syslog-style severities this package
// exposes; it is a thin facade so callers outside this package never need
// to import logiface directly.
type Level = logiface.Level

// Logger is the structured logger used throughout the server. It wraps
// *logiface.Logger[*stumpy.Event] rather than aliasing it directly, so
// request-scoped fields can be attached via With without leaking the
// generic instantiation into every call site.
type Logger struct {
	l *logiface.Logger[*stumpy.Event]
}

// New builds a Logger writing newline-delimited JSON to w at the given
// minimum level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{
		l: stumpy.L.New(
			stumpy.L.WithLevel(level),
			stumpy.WithStumpy(stumpy.WithWriter(w)),
		),
	}
}

// Default returns a Logger writing to stderr at informational level,
// matching the CLI's zero-configuration default.
func Default() *Logger {
	return New(os.Stderr, logiface.LevelInformational)
}

// With returns a child Logger that attaches key/val to every subsequent
// event, without mutating the receiver.
func (lg *Logger) With(key string, val any) *Logger {
	ctx := lg.l.Clone()
	ctx.Interface(key, val)
	return &Logger{l: ctx.Logger()}
}

func (lg *Logger) Info(msg string)            { lg.l.Info().Log(msg) }
func (lg *Logger) Debug(msg string)           { lg.l.Debug().Log(msg) }
func (lg *Logger) Warn(msg string)            { lg.l.Warning().Log(msg) }
func (lg *Logger) Error(msg string, err error) {
	b := lg.l.Err()
	if err != nil {
		b = b.Err(err)
	}
	b.Log(msg)
}

// EventLoopSink adapts Logger into an eventloop.Logger, so the loop's
// recovered-panic and overload diagnostics flow through the same
// structured sink as the rest of the server.
func (lg *Logger) EventLoopSink() eventloop.Logger {
	return eventloop.LoggerFunc(func(e eventloop.LogEntry) {
		b := lg.l.Build(toLogifaceLevel(e.Level))
		if e.Err != nil {
			b = b.Err(e.Err)
		}
		for k, v := range e.Context {
			b = b.Interface(k, v)
		}
		b.Log(e.Message)
	})
}

func toLogifaceLevel(l eventloop.LogLevel) logiface.Level {
	switch l {
	case eventloop.LevelDebug:
		return logiface.LevelDebug
	case eventloop.LevelInfo:
		return logiface.LevelInformational
	case eventloop.LevelWarn:
		return logiface.LevelWarning
	case eventloop.LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
