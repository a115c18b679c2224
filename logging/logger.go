package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// LogLevel represents different logging levels.
// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string (debug, info, warn, error) to a
// LogLevel. Unknown values map to LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface for segmesh.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// SegmeshLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It should be cheap to copy via With* methods.
type SegmeshLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]interface{}
	component string
	runID     string
	round     int
}

// LoggerConfig configures construction of a SegmeshLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	RunID       string
	CustomAttrs map[string]interface{}
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, AddSource: true, CustomAttrs: map[string]interface{}{}}
}

// NewLogger builds an SegmeshLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *SegmeshLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	ctx := map[string]interface{}{}
	for k, v := range cfg.CustomAttrs {
		ctx[k] = v
	}
	return &SegmeshLogger{logger: slog.New(handler), level: cfg.Level, context: ctx, component: cfg.Component, runID: cfg.RunID}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SegmeshLogger) clone() *SegmeshLogger {
	nl := *l
	nl.context = map[string]interface{}{}
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *SegmeshLogger) WithContext(key string, value interface{}) *SegmeshLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (agent, engine, server, etc.).
func (l *SegmeshLogger) WithComponent(c string) *SegmeshLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithRun attaches the run identifier.
func (l *SegmeshLogger) WithRun(runID string) *SegmeshLogger {
	nl := l.clone()
	nl.runID = runID
	return nl
}

// WithRound attaches the current round number.
func (l *SegmeshLogger) WithRound(round int) *SegmeshLogger {
	nl := l.clone()
	nl.round = round
	return nl
}

func (l *SegmeshLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.runID != "" {
		attrs = append(attrs, slog.String("run_id", l.runID))
	}
	if l.round > 0 {
		attrs = append(attrs, slog.Int("round", l.round))
	}
	for k, v := range l.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *SegmeshLogger) log(level slog.Level, allowed bool, msg string, args ...interface{}) {
	if !allowed {
		return
	}
	attrs := append(l.buildAttrs(), argsToAttrs(args)...)
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// argsToAttrs converts alternating key/value arguments into attributes. A
// trailing key without value is recorded under "!BADKEY" like slog does.
func argsToAttrs(args []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i++ {
		switch k := args[i].(type) {
		case slog.Attr:
			attrs = append(attrs, k)
		case string:
			if i+1 >= len(args) {
				attrs = append(attrs, slog.String("!BADKEY", k))
				continue
			}
			attrs = append(attrs, slog.Any(k, args[i+1]))
			i++
		default:
			attrs = append(attrs, slog.Any("!BADKEY", k))
		}
	}
	return attrs
}

// Debug logs at debug level.
func (l *SegmeshLogger) Debug(msg string, args ...interface{}) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *SegmeshLogger) Info(msg string, args ...interface{}) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *SegmeshLogger) Warn(msg string, args ...interface{}) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *SegmeshLogger) Error(msg string, args ...interface{}) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// ErrorWithStack logs an error plus a runtime stack snapshot.
func (l *SegmeshLogger) ErrorWithStack(err error, msg string, args ...interface{}) {
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", fmt.Sprintf("%T", err)),
		slog.String("stack_trace", string(stack[:n])),
	}
	l.emit(slog.LevelError, msg, append(attrs, argsToAttrs(args)...)...)
}

// LogToolDispatch records the execution of one parsed tool call. Successful
// dispatches log at debug level.
func (l *SegmeshLogger) LogToolDispatch(tool string, dur time.Duration, success bool, err error) {
	level, msg := slog.LevelDebug, "Tool dispatch completed"
	if !success {
		level, msg = slog.LevelWarn, "Tool dispatch failed"
	}
	l.emit(level, msg, withErr(err, slog.String("tool_name", tool), slog.Duration("duration", dur))...)
}

// LogReasoningCall records reasoning model latency and output size.
func (l *SegmeshLogger) LogReasoningCall(model string, chars int, dur time.Duration, success bool, err error) {
	level, msg := slog.LevelDebug, "Reasoning call completed"
	if !success {
		level, msg = slog.LevelWarn, "Reasoning call failed"
	}
	l.emit(level, msg, withErr(err,
		slog.String("model", model),
		slog.Int("output_chars", chars),
		slog.Duration("duration", dur),
	)...)
}

// LogSegmentation records a segmentation of phrase.
func (l *SegmeshLogger) LogSegmentation(phrase string, masks int, cached bool, dur time.Duration, err error) {
	level, msg := slog.LevelDebug, "Segmentation completed"
	if err != nil {
		level, msg = slog.LevelWarn, "Segmentation failed"
	}
	l.emit(level, msg, withErr(err,
		slog.String("phrase", phrase),
		slog.Int("mask_count", masks),
		slog.Bool("cached", cached),
		slog.Duration("duration", dur),
	)...)
}

// LogRun records the outcome of a whole run.
func (l *SegmeshLogger) LogRun(status string, rounds int, dur time.Duration, err error) {
	level, msg := slog.LevelInfo, "Run finished"
	if err != nil {
		level, msg = slog.LevelError, "Run failed"
	}
	l.emit(level, msg, withErr(err,
		slog.String("status", status),
		slog.Int("round_count", rounds),
		slog.Duration("duration", dur),
	)...)
}

// emit writes one entry when level passes the logger's threshold.
func (l *SegmeshLogger) emit(level slog.Level, msg string, attrs ...slog.Attr) {
	if level < slogLevel(l.level) {
		return
	}
	l.logger.LogAttrs(context.Background(), level, msg, append(l.buildAttrs(), attrs...)...)
}

func withErr(err error, attrs ...slog.Attr) []slog.Attr {
	if err == nil {
		return attrs
	}
	return append(attrs, slog.String("error", err.Error()))
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// NewSlogLogger creates a new SegmeshLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *SegmeshLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}
