// Package logging provides structured logging using zap, bridged to
// OpenTelemetry so log records carry span/trace correlation.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// ZapLogger implements core.ILogger using zap.Logger, teed into the OTel
// log bridge.
type ZapLogger struct {
	logger *zap.Logger
}

// New creates a ZapLogger at the given level ("DEBUG", "INFO", "WARN",
// "ERROR"), writing console-encoded records to stdout and bridging them
// to the process's registered OTel LoggerProvider.
func New(levelStr string) *ZapLogger {
	zapLevel := parseZapLevel(levelStr)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	stdoutCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapLevel,
	)

	otelCore := otelzap.NewCore("gridbot", otelzap.WithLoggerProvider(global.GetLoggerProvider()))
	combined := zapcore.NewTee(stdoutCore, otelCore)

	logger := zap.New(combined, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{logger: logger}
}

func parseZapLevel(levelStr string) zapcore.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return zap.DebugLevel
	case "WARN":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// convertToZapFields turns a flat key, value, key, value... slice (the
// shape every package in this repo calls Info/Warn/Error with) into zap
// fields; an odd trailing arg is dropped rather than panicking.
func convertToZapFields(fields []interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		zapFields = append(zapFields, zap.Any(key, fields[i+1]))
	}
	return zapFields
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, convertToZapFields(fields)...)
}

func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, convertToZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, convertToZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg, convertToZapFields(fields)...)
}

// With returns a child logger with fields (key, value, key, value, ...)
// attached to every subsequent record.
func (l *ZapLogger) With(fields ...interface{}) core.ILogger {
	return &ZapLogger{logger: l.logger.With(convertToZapFields(fields)...)}
}

// Sync flushes any buffered log entries; call during graceful shutdown.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

var _ core.ILogger = (*ZapLogger)(nil)
