// Package logging wraps zap with the fields every oracle component logs.
//
// Logger is the structured variant used on request and simulation paths;
// Sugar() gives printf-style logging for the CLI. All methods are safe on a
// nil *Logger, which discards.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	zap *zap.Logger
}

type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a JSON logger on stderr at the given level (debug|info|warn|error).
func New(level string) *Logger {
	return NewWithWriter(level, os.Stderr)
}

func NewWithWriter(level string, w io.Writer) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		NameKey:     "component",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeName:  zapcore.FullNameEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		parseLevel(level),
	)
	return &Logger{zap: zap.New(core)}
}

// Nop returns a logger that drops everything.
func Nop() *Logger { return &Logger{zap: zap.NewNop()} }

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Named scopes the logger to a component.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zap: l.zap.Named(component)}
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zap: l.zap.With(toZap(fields)...)}
}

func (l *Logger) Debug(message string, fields map[string]any) {
	if l != nil {
		l.zap.Debug(message, toZap(fields)...)
	}
}

func (l *Logger) Info(message string, fields map[string]any) {
	if l != nil {
		l.zap.Info(message, toZap(fields)...)
	}
}

func (l *Logger) Warn(message string, fields map[string]any) {
	if l != nil {
		l.zap.Warn(message, toZap(fields)...)
	}
}

func (l *Logger) Error(message string, fields map[string]any) {
	if l != nil {
		l.zap.Error(message, toZap(fields)...)
	}
}

// Sync flushes buffered entries; call before exit.
func (l *Logger) Sync() {
	if l != nil {
		_ = l.zap.Sync()
	}
}

func (l *Logger) Sugar() *SugaredLogger {
	if l == nil {
		return &SugaredLogger{sugar: zap.NewNop().Sugar()}
	}
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

func (s *SugaredLogger) Debugf(template string, args ...any) { s.sugar.Debugf(template, args...) }
func (s *SugaredLogger) Infof(template string, args ...any)  { s.sugar.Infof(template, args...) }
func (s *SugaredLogger) Warnf(template string, args ...any)  { s.sugar.Warnf(template, args...) }
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }

func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
