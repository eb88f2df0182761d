package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields carries structured key/value pairs for a log entry.
type Fields map[string]interface{}

// Options configures the process-wide log handler.
type Options struct {
	Level    string
	FilePath string
	// MaxSizeMB, MaxBackups and MaxAgeDays only apply when FilePath is set.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu   sync.RWMutex
	base = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Init replaces the global handler. Call it once from main before any
// component logger is created.
func Init(service string, opts Options) *LoggerV2 {
	var w io.Writer = os.Stdout
	if opts.FilePath != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
		}
		w = io.MultiWriter(os.Stdout, rot)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})

	mu.Lock()
	base = slog.New(h).With("service", service)
	mu.Unlock()

	return NewLoggerV2(service)
}

// SetOutput points the global handler at w. Used by tests to capture output.
func SetOutput(w io.Writer, level string) {
	mu.Lock()
	base = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	mu.Unlock()
}

// ParseLevel maps a config string onto a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// LoggerV2 is a component-scoped structured logger.
type LoggerV2 struct {
	component string
	fields    Fields
}

// NewLoggerV2 returns a logger tagged with the given component name.
func NewLoggerV2(component string) *LoggerV2 {
	return &LoggerV2{component: component}
}

// With returns a child logger that always carries fields.
func (l *LoggerV2) With(fields Fields) *LoggerV2 {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &LoggerV2{component: l.component, fields: merged}
}

func (l *LoggerV2) Debug(msg string, fields ...Fields) {
	l.log(slog.LevelDebug, msg, fields)
}

func (l *LoggerV2) Info(msg string, fields ...Fields) {
	l.log(slog.LevelInfo, msg, fields)
}

func (l *LoggerV2) Warn(msg string, fields ...Fields) {
	l.log(slog.LevelWarn, msg, fields)
}

func (l *LoggerV2) Error(msg string, fields ...Fields) {
	l.log(slog.LevelError, msg, fields)
}

// Fatal logs at error level and exits the process.
func (l *LoggerV2) Fatal(msg string, fields ...Fields) {
	l.log(slog.LevelError, msg, fields)
	os.Exit(1)
}

func (l *LoggerV2) log(level slog.Level, msg string, fields []Fields) {
	lg := current()
	ctx := context.Background()
	if !lg.Enabled(ctx, level) {
		return
	}

	attrs := make([]any, 0, 2+2*len(l.fields))
	if l.component != "" {
		attrs = append(attrs, "component", l.component)
	}
	attrs = appendFields(attrs, l.fields)
	for _, f := range fields {
		attrs = appendFields(attrs, f)
	}

	lg.Log(ctx, level, msg, attrs...)
}

// appendFields adds fields in key order so entries are stable across runs.
func appendFields(attrs []any, f Fields) []any {
	if len(f) == 0 {
		return attrs
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, f[k])
	}
	return attrs
}

// Info logs through the global handler without a component.
func Info(msg string, fields ...Fields) {
	(&LoggerV2{}).Info(msg, fields...)
}

// Infof logs a formatted message through the global handler.
func Infof(format string, args ...interface{}) {
	(&LoggerV2{}).Info(fmt.Sprintf(format, args...))
}
