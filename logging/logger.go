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

// ParseLevel maps a case-insensitive level name to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface used throughout marlmesh.
// Arguments after msg are slog-style key/value pairs.
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

// TrainingLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It is cheap to copy via With* methods.
type TrainingLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]any
	component string
	runID     string
	trainerID string
}

// LoggerConfig configures construction of a TrainingLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
	RunID     string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration
// writing to stderr, leaving stdout to command output.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr}
}

// NewLogger builds a TrainingLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *TrainingLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &TrainingLogger{logger: slog.New(handler), level: cfg.Level, context: map[string]any{}, component: cfg.Component, runID: cfg.RunID}
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

func (l *TrainingLogger) clone() *TrainingLogger {
	nl := *l
	nl.context = make(map[string]any, len(l.context))
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *TrainingLogger) WithContext(key string, value any) *TrainingLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (builder, variable_server, executor, ...).
func (l *TrainingLogger) WithComponent(c string) *TrainingLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithRun attaches the run identifier.
func (l *TrainingLogger) WithRun(runID string) *TrainingLogger {
	nl := l.clone()
	nl.runID = runID
	return nl
}

// WithTrainer attaches a trainer identifier.
func (l *TrainingLogger) WithTrainer(trainerID string) *TrainingLogger {
	nl := l.clone()
	nl.trainerID = trainerID
	return nl
}

func (l *TrainingLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.runID != "" {
		attrs = append(attrs, slog.String("run_id", l.runID))
	}
	if l.trainerID != "" {
		attrs = append(attrs, slog.String("trainer_id", l.trainerID))
	}
	for k, v := range l.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *TrainingLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(l.buildAttrs()...)
	r.Add(args...)
	_ = l.logger.Handler().Handle(context.Background(), r)
}

// Debug logs at debug level.
func (l *TrainingLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *TrainingLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *TrainingLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *TrainingLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// ErrorWithStack logs an error plus a runtime stack snapshot.
func (l *TrainingLogger) ErrorWithStack(err error, msg string, args ...any) {
	if l.level > LogLevelError {
		return
	}
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	args = append(args,
		"error", err.Error(),
		"error_type", fmt.Sprintf("%T", err),
		"stack_trace", string(stack[:n]),
	)
	l.log(slog.LevelError, true, msg, args...)
}

func (l *TrainingLogger) enabled(level slog.Level) bool {
	return slogLevel(l.level) <= level
}

func (l *TrainingLogger) logOutcome(done, failed string, err error, debugOnSuccess bool, args ...any) {
	level, msg := slog.LevelInfo, done
	if debugOnSuccess {
		level = slog.LevelDebug
	}
	if err != nil {
		level, msg = slog.LevelError, failed
		args = append(args, "success", false, "error", err.Error())
	} else {
		args = append(args, "success", true)
	}
	l.log(level, l.enabled(level), msg, args...)
}

// LogPhase records the duration and outcome of a builder phase.
func (l *TrainingLogger) LogPhase(phase string, dur time.Duration, err error) {
	l.logOutcome("Build phase completed", "Build phase failed", err, false, "phase", phase, "duration", dur)
}

// LogVariableSync records a pull or push of variables between a client and
// the variable server. Successful syncs are logged at debug level.
func (l *TrainingLogger) LogVariableSync(direction string, keys []string, dur time.Duration, err error) {
	l.logOutcome("Variable sync completed", "Variable sync failed", err, true, "direction", direction, "keys", keys, "duration", dur)
}

// LogCheckpoint records a checkpoint write.
func (l *TrainingLogger) LogCheckpoint(checkpointID string, entries int, size int, dur time.Duration, err error) {
	l.logOutcome("Checkpoint saved", "Checkpoint failed", err, false,
		"checkpoint_id", checkpointID, "entries", entries, "bytes", size, "duration", dur)
}

// LogTrainerStep records learner metrics for one optimisation step.
func (l *TrainingLogger) LogTrainerStep(step int64, dur time.Duration, metrics map[string]float64) {
	args := []any{"step", step, "duration", dur}
	for k, v := range metrics {
		args = append(args, "metric_"+k, v)
	}
	l.log(slog.LevelInfo, l.enabled(slog.LevelInfo), "Trainer step", args...)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *TrainingLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Info("Operation completed", "operation", op, "duration", time.Since(start)) }
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

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// Discard returns a TrainingLogger that drops every entry.
func Discard() *TrainingLogger {
	return NewLogger(&LoggerConfig{Level: LogLevelError, Output: io.Discard})
}

// NewSlogLogger creates a new TrainingLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *TrainingLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}
