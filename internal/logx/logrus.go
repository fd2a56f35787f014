package logx

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogrusAdapter adapts a logrus entry to the Logger interface.
type LogrusAdapter struct {
	e *logrus.Entry
}

// NewLogrus builds a JSON logrus logger writing to w at the given level.
// Unknown levels fall back to info.
func NewLogrus(w io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &LogrusAdapter{e: logrus.NewEntry(l)}
}

// FromLogrus wraps an existing logrus logger.
func FromLogrus(l *logrus.Logger) Logger {
	return &LogrusAdapter{e: logrus.NewEntry(l)}
}

func (a *LogrusAdapter) Debug(msg string, fields ...Field) {
	a.e.WithFields(toFields(fields)).Debug(msg)
}

func (a *LogrusAdapter) Info(msg string, fields ...Field) {
	a.e.WithFields(toFields(fields)).Info(msg)
}

func (a *LogrusAdapter) Warn(msg string, fields ...Field) {
	a.e.WithFields(toFields(fields)).Warn(msg)
}

func (a *LogrusAdapter) Error(msg string, fields ...Field) {
	a.e.WithFields(toFields(fields)).Error(msg)
}

// With returns a logger that attaches fields to every entry.
func (a *LogrusAdapter) With(fields ...Field) Logger {
	return &LogrusAdapter{e: a.e.WithFields(toFields(fields))}
}

func toFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && err != nil {
			out[f.Key] = err.Error()
			continue
		}
		out[f.Key] = f.Value
	}
	return out
}
