package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for logging
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Time(msg string, args ...any)

	// WithFields returns a logger that attaches fields to every entry
	WithFields(fields map[string]any) Logger

	// Progress logging for operations
	StartOperation(name string) OperationLogger
}

// OperationLogger tracks timing for operations
type OperationLogger interface {
	Update(msg string, args ...any)
	Complete(msg string, args ...any)
	Fail(msg string, args ...any)
}

// FileOptions controls rotation of the log file
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// logger implements Logger on top of a logrus entry
type logger struct {
	entry *logrus.Entry
}

// operationLogger tracks a single operation
type operationLogger struct {
	name      string
	startTime time.Time
	parent    *logger
}

// New creates a logger writing to stdout
func New(level, format string) Logger {
	return newLogger(os.Stdout, level, format)
}

// FileLogger creates a logger that writes to both stdout and a rotated file
func FileLogger(level, format, filename string, opts FileOptions) (Logger, error) {
	if filename == "" {
		return nil, fmt.Errorf("log file name is empty")
	}

	rotator := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	return newLogger(io.MultiWriter(os.Stdout, rotator), level, format), nil
}

func newLogger(out io.Writer, level, format string) *logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(parseLevel(level))

	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &logger{entry: logrus.NewEntry(l)}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
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

// toFields turns slog-style key/value pairs into logrus fields
func toFields(args []any) logrus.Fields {
	if len(args) == 0 {
		return nil
	}
	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		fields[key] = args[i+1]
	}
	return fields
}

func (l *logger) with(args []any) *logrus.Entry {
	if fields := toFields(args); fields != nil {
		return l.entry.WithFields(fields)
	}
	return l.entry
}

func (l *logger) Debug(msg string, args ...any) {
	l.with(args).Debug(msg)
}

func (l *logger) Info(msg string, args ...any) {
	l.with(args).Info(msg)
}

func (l *logger) Warn(msg string, args ...any) {
	l.with(args).Warn(msg)
}

func (l *logger) Error(msg string, args ...any) {
	l.with(args).Error(msg)
}

func (l *logger) Time(msg string, args ...any) {
	// Time logs are always at info level with special formatting
	l.with(args).Info("[TIME] " + msg)
}

func (l *logger) WithFields(fields map[string]any) Logger {
	return &logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logger) StartOperation(name string) OperationLogger {
	return &operationLogger{
		name:      name,
		startTime: time.Now(),
		parent:    l,
	}
}

func (ol *operationLogger) Update(msg string, args ...any) {
	elapsed := time.Since(ol.startTime)
	ol.parent.Info(fmt.Sprintf("[%s] %s", ol.name, msg),
		append(args, "elapsed", elapsed.String())...)
}

func (ol *operationLogger) Complete(msg string, args ...any) {
	elapsed := time.Since(ol.startTime)
	ol.parent.Info(fmt.Sprintf("[%s] COMPLETED: %s", ol.name, msg),
		append(args, "duration", formatDuration(elapsed))...)
}

func (ol *operationLogger) Fail(msg string, args ...any) {
	elapsed := time.Since(ol.startTime)
	ol.parent.Error(fmt.Sprintf("[%s] FAILED: %s", ol.name, msg),
		append(args, "duration", formatDuration(elapsed))...)
}

// formatDuration formats duration in human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
