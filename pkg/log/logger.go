// Custom logging utility used internally all over Lantern.

package log

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Context keys read by WithCtx, populated by the request middlewares.
const (
	RequestIDKey     = "ReqID"
	CorrelationIDKey = "correlation_id"
)

// Options controls where and how Logger writes.
type Options struct {
	// Version is attached to every log line.
	Version string
	// Env selects prettified console output for "DEV".
	Env string
	// File, when set, routes output through a rotating log file.
	File string
	// Level is parsed with zerolog.ParseLevel, defaults to info.
	Level string
}

// Logger acts as a wrapper for zerolog with custom features.
type Logger interface {
	// WithCtx returns a sub-logger based of root logger with added context.
	WithCtx(context.Context) Logger
	// With returns a sub-logger carrying an extra string field.
	With(key, value string) Logger
	// Info level log starts a log message with INFO level.
	Info() *zerolog.Event
	// Debug level log starts a log message with DEBUG level.
	Debug() *zerolog.Event
	// Warn level log starts a log message with WARNING level.
	Warn() *zerolog.Event
	// Error level log starts a log message with ERROR level.
	Error() *zerolog.Event
	// Fatal level log starts a log message with FATAL level.
	Fatal() *zerolog.Event
}

type logger struct {
	zerolog.Logger
}

// Creates a new logger instance for other packages to use the internal zerolog.
func New(opts Options) Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(output(opts)).Level(level).With().Timestamp()
	if opts.Version != "" {
		zl = zl.Str("Version", opts.Version)
	}
	return &logger{zl.Caller().Stack().Logger()}
}

// NewWriter builds a logger on top of an arbitrary writer. Mostly used by tests.
func NewWriter(w io.Writer) Logger {
	return &logger{zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a logger which discards everything.
func Nop() Logger {
	return &logger{zerolog.Nop()}
}

func output(opts Options) io.Writer {
	if opts.File != "" {
		return &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}
	}
	if opts.Env == "DEV" {
		// ConsoleWriter prettifies log, inefficient in prod
		return zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return os.Stdout
}

// Returns a sub-logger by adding additional requestID and correlationID context to it.
// Helps in debugging issues.
func (l *logger) WithCtx(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	sub := l.Logger.With()
	added := false
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		sub = sub.Str(RequestIDKey, requestID)
		added = true
	}
	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok && correlationID != "" {
		sub = sub.Str(CorrelationIDKey, correlationID)
		added = true
	}
	if !added {
		return l
	}
	return &logger{sub.Logger()}
}

func (l *logger) With(key, value string) Logger {
	return &logger{l.Logger.With().Str(key, value).Logger()}
}
