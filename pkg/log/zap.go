package log

import (
	"go.uber.org/zap"
)

// ZapLogger adapts a zap logger to Logger.
type ZapLogger struct {
	logger *zap.Logger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		logger: logger,
	}
}

// NewDevelopment builds a human readable debug level logger.
func NewDevelopment() (*ZapLogger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

// NewProduction builds a JSON info level logger.
func NewProduction() (*ZapLogger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

// Named returns a child logger scoped to the given subsystem name.
func (l *ZapLogger) Named(name string) *ZapLogger {
	return NewZapLogger(l.logger.Named(name))
}

// With returns a child logger carrying the given fields.
func (l *ZapLogger) With(fields ...zap.Field) *ZapLogger {
	return NewZapLogger(l.logger.With(fields...))
}

func (l *ZapLogger) Debug(msg string) {
	l.logger.Debug(msg)
}

func (l *ZapLogger) Info(msg string) {
	l.logger.Info(msg)
}

func (l *ZapLogger) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *ZapLogger) Error(msg string) {
	l.logger.Error(msg)
}

// Sync flushes any buffered entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
