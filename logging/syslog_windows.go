//go:build windows

package logging

import (
	"maps"
	"os"
)

// Windows has no native syslog; syslogLogger falls back to stdout so
// LOG_OUTPUT=syslog stays a valid config on every platform.
type syslogLogger struct {
	baseLogger
}

// NewSyslogLogger returns a stdout logger on Windows.
func NewSyslogLogger(config *LogConfig) (Logger, error) {
	return NewStdoutLogger(config), nil
}

func (l *syslogLogger) With(fields ...Field) Logger {
	newFields := maps.Clone(l.fields)
	if newFields == nil {
		newFields = make(map[string]interface{})
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}
	return &syslogLogger{baseLogger: baseLogger{config: l.config, fields: newFields}}
}

func (l *syslogLogger) SetLevel(level LogLevel) {
	l.config.Level = level
}

func (l *syslogLogger) Debug(msg string, fields ...Field) {
	l.formatAndPrint(DEBUG, msg, nil, fields)
}

func (l *syslogLogger) Info(msg string, fields ...Field) {
	l.formatAndPrint(INFO, msg, nil, fields)
}

func (l *syslogLogger) Warn(msg string, fields ...Field) {
	l.formatAndPrint(WARN, msg, nil, fields)
}

func (l *syslogLogger) Error(msg string, err error, fields ...Field) {
	l.formatAndPrint(ERROR, msg, err, fields)
}

func (l *syslogLogger) formatAndPrint(level LogLevel, msg string, err error, fields []Field) {
	if data := l.formatEntry(level, msg, err, fields); data != nil {
		// write to stdout
		_, _ = os.Stdout.Write(data)
	}
}
