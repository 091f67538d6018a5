package scheduler

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type cronLogger struct {
	l *zap.SugaredLogger
}

// NewCronLogger adapts zap to cron.Logger. Cron's chatty info lines go to debug.
func NewCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{l: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
