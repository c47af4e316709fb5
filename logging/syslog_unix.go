//go:build !windows

package logging

import (
	"fmt"
	"log/syslog"
	"maps"
)

// syslogLogger is the unix backend behind LOG_OUTPUT=syslog.
type syslogLogger struct {
	baseLogger
	writer *syslog.Writer
}

var syslogFacilities = map[string]syslog.Priority{
	"mail":   syslog.LOG_MAIL,
	"daemon": syslog.LOG_DAEMON,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

// NewSyslogLogger dials the local syslog daemon under the configured
// facility, defaulting to LOG_MAIL for an unrecognised or empty facility.
func NewSyslogLogger(config *LogConfig) (Logger, error) {
	facility, ok := syslogFacilities[config.SyslogFacility]
	if !ok {
		facility = syslog.LOG_MAIL
	}

	writer, err := syslog.New(syslog.LOG_INFO|facility, "feathermail")
	if err != nil {
		return nil, fmt.Errorf("connecting to syslog: %w", err)
	}

	return &syslogLogger{
		baseLogger: baseLogger{config: *config, fields: make(map[string]interface{})},
		writer:     writer,
	}, nil
}

// logToSyslog maps a LogLevel onto the matching syslog.Writer priority
// method; writes are best-effort, matching the rest of the logging package.
func (l *syslogLogger) logToSyslog(level LogLevel, data []byte) {
	if data == nil {
		return
	}

	msg := string(data)
	var err error
	switch level {
	case DEBUG:
		err = l.writer.Debug(msg)
	case INFO:
		err = l.writer.Info(msg)
	case WARN:
		err = l.writer.Warning(msg)
	case ERROR:
		err = l.writer.Err(msg)
	}
	_ = err
}

func (l *syslogLogger) Debug(msg string, fields ...Field) {
	l.logToSyslog(DEBUG, l.formatEntry(DEBUG, msg, nil, fields))
}

func (l *syslogLogger) Info(msg string, fields ...Field) {
	l.logToSyslog(INFO, l.formatEntry(INFO, msg, nil, fields))
}

func (l *syslogLogger) Warn(msg string, fields ...Field) {
	l.logToSyslog(WARN, l.formatEntry(WARN, msg, nil, fields))
}

func (l *syslogLogger) Error(msg string, err error, fields ...Field) {
	l.logToSyslog(ERROR, l.formatEntry(ERROR, msg, err, fields))
}

func (l *syslogLogger) With(fields ...Field) Logger {
	newFields := maps.Clone(l.fields)
	if newFields == nil {
		newFields = make(map[string]interface{})
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}
	return &syslogLogger{baseLogger: baseLogger{config: l.config, fields: newFields}, writer: l.writer}
}

func (l *syslogLogger) SetLevel(level LogLevel) { l.config.Level = level }
