package adapters

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ZerologLoggerAdapter implements LoggerAdapter on top of rs/zerolog,
// for hosts that want structured log output instead of the print
// logger's plain lines.
type ZerologLoggerAdapter struct {
	logger zerolog.Logger
}

var _ LoggerAdapter = (*ZerologLoggerAdapter)(nil)

// NewZerologLoggerAdapter creates an adapter writing console-formatted
// records to out.
func NewZerologLoggerAdapter(out io.Writer, level LogLevel) *ZerologLoggerAdapter {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: out}).
		Level(zerologLevel(level)).
		With().Timestamp().Str("component", "beacon").Logger()
	return &ZerologLoggerAdapter{logger: logger}
}

// NewZerologLoggerAdapterFrom wraps an existing zerolog logger so the
// client shares the host application's log configuration.
func NewZerologLoggerAdapterFrom(logger zerolog.Logger) *ZerologLoggerAdapter {
	return &ZerologLoggerAdapter{logger: logger}
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelNone:
		return zerolog.Disabled
	default:
		return zerolog.WarnLevel
	}
}

func (z *ZerologLoggerAdapter) Debug(message string, args ...any) {
	z.logger.Debug().Msg(format(message, args))
}

func (z *ZerologLoggerAdapter) Info(message string, args ...any) {
	z.logger.Info().Msg(format(message, args))
}

func (z *ZerologLoggerAdapter) Warn(message string, args ...any) {
	z.logger.Warn().Msg(format(message, args))
}

func (z *ZerologLoggerAdapter) Error(message string, args ...any) {
	z.logger.Error().Msg(format(message, args))
}

func format(message string, args []any) string {
	if len(args) == 0 {
		return message
	}
	return fmt.Sprintf(message, args...)
}
