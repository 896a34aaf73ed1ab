// Package logging provides a small structured-logging facade so the rest of
// the tree depends on an interface rather than directly on logrus.
package logging

import (
	"github.com/sirupsen/logrus"
)

// LogLevel mirrors logrus' levels without leaking the logrus type into
// callers that only want to say "debug" or "info".
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func fromLogrusLevel(l logrus.Level) LogLevel {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return DebugLevel
	case logrus.WarnLevel:
		return WarnLevel
	case logrus.ErrorLevel:
		return ErrorLevel
	case logrus.FatalLevel, logrus.PanicLevel:
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Field is a single structured logging field, built with F.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a structured Field for a log call, e.g.
// logger.Info("resolved chain", logging.F("sub", sub), logging.F("anchor", anchor)).
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the structured logging interface used throughout the module.
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	SetLevel(level LogLevel)
	GetLevel() LogLevel
	// With returns a child logger that always attaches the given fields.
	With(fields ...Field) Logger
}

// LogrusAdapter implements Logger on top of a *logrus.Logger (or Entry).
type LogrusAdapter struct {
	entry *logrus.Entry
}

// NewLogrusAdapter wraps a configured *logrus.Logger as a Logger.
func NewLogrusAdapter(logger *logrus.Logger) *LogrusAdapter {
	return &LogrusAdapter{entry: logrus.NewEntry(logger)}
}

func (a *LogrusAdapter) fieldsToLogrus(fields []Field) logrus.Fields {
	if len(fields) == 0 {
		return nil
	}
	f := make(logrus.Fields, len(fields))
	for _, field := range fields {
		f[field.Key] = field.Value
	}
	return f
}

func (a *LogrusAdapter) Debug(msg string, fields ...Field) {
	a.entry.WithFields(a.fieldsToLogrus(fields)).Debug(msg)
}

func (a *LogrusAdapter) Info(msg string, fields ...Field) {
	a.entry.WithFields(a.fieldsToLogrus(fields)).Info(msg)
}

func (a *LogrusAdapter) Warn(msg string, fields ...Field) {
	a.entry.WithFields(a.fieldsToLogrus(fields)).Warn(msg)
}

func (a *LogrusAdapter) Error(msg string, fields ...Field) {
	a.entry.WithFields(a.fieldsToLogrus(fields)).Error(msg)
}

func (a *LogrusAdapter) Fatal(msg string, fields ...Field) {
	a.entry.WithFields(a.fieldsToLogrus(fields)).Fatal(msg)
}

func (a *LogrusAdapter) SetLevel(level LogLevel) {
	a.entry.Logger.SetLevel(level.logrusLevel())
}

func (a *LogrusAdapter) GetLevel() LogLevel {
	return fromLogrusLevel(a.entry.Logger.GetLevel())
}

func (a *LogrusAdapter) With(fields ...Field) Logger {
	return &LogrusAdapter{entry: a.entry.WithFields(a.fieldsToLogrus(fields))}
}
