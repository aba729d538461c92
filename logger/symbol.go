package logger

import (
	"github.com/teranos/tren/sym"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Symbol-aware logging helpers. The symbol goes into a structured field, not
// the message, so logs stay queryable by subsystem:
//
//	logger.PulseInfow("Job claimed", "job_id", id)

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(msg string, keysAndValues ...interface{}) {
	symbolw(zap.InfoLevel, sym.Pulse, msg, keysAndValues)
}

// PulseWarnw logs a warning message with the Pulse symbol (꩜)
func PulseWarnw(msg string, keysAndValues ...interface{}) {
	symbolw(zap.WarnLevel, sym.Pulse, msg, keysAndValues)
}

// DBInfow logs an info message with the DB symbol (⊔)
func DBInfow(msg string, keysAndValues ...interface{}) {
	symbolw(zap.InfoLevel, sym.DB, msg, keysAndValues)
}

func symbolw(level zapcore.Level, symbol, msg string, keysAndValues []interface{}) {
	if Logger == nil {
		return
	}
	fields := append([]interface{}{FieldSymbol, symbol}, keysAndValues...)
	Logger.Logw(level, msg, fields...)
}

// WithSymbol returns a logger with the given symbol as a field.
func WithSymbol(l *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	return l.With(FieldSymbol, symbol)
}

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.Pulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.PulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.PulseClose)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.DB)
}

// AddTrSymbol wraps a logger with the translation symbol (⇄)
func AddTrSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.Tr)
}
