package logx

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides structured key/value logging for a single component.
// It wraps logrus with JSON output so every line is machine-parseable.
type Logger struct {
	backend   *logrus.Logger
	component string
}

// NewLogger creates a logger at the given level ("trace"|"debug"|"info"|"warn"|"error")
// tagged with a component name.
func NewLogger(level, component string) *Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stdout)
	backend.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	backend.SetLevel(parseLevel(level))

	return &Logger{
		backend:   backend,
		component: component,
	}
}

// SetLevel changes the logger level at runtime.
func (l *Logger) SetLevel(level string) {
	l.backend.SetLevel(parseLevel(level))
}

// Backend exposes the underlying logrus logger for libraries that accept one.
func (l *Logger) Backend() *logrus.Logger {
	return l.backend
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// fields converts variadic key/value arguments into logrus fields. A single
// map[string]interface{} argument is accepted as-is; otherwise arguments are
// interpreted as alternating keys and values.
func (l *Logger) fields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{"component": l.component}

	if len(keysAndValues) == 1 {
		if m, ok := keysAndValues[0].(map[string]interface{}); ok {
			for k, v := range m {
				fields[k] = v
			}
			return fields
		}
	}

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	if len(keysAndValues)%2 != 0 && len(keysAndValues) > 1 {
		fields["_extra"] = keysAndValues[len(keysAndValues)-1]
	}

	return fields
}

func (l *Logger) Trace(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Trace(msg)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.backend.WithFields(l.fields(keysAndValues)).Error(msg)
}

// LogVerbose logs a named event with structured data at trace level.
func (l *Logger) LogVerbose(event string, data map[string]interface{}) {
	l.backend.WithFields(l.fields([]interface{}{data})).WithField("event", event).Trace(event)
}

// LogDebugVerbose logs a named event with structured data at debug level.
func (l *Logger) LogDebugVerbose(event string, data map[string]interface{}) {
	l.backend.WithFields(l.fields([]interface{}{data})).WithField("event", event).Debug(event)
}
