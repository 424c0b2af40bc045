package logger

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel selects the minimum severity that gets emitted.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFormat selects the output encoding.
type LogFormat string

const (
	// JSONFormat emits one JSON object per entry, for log shippers.
	JSONFormat LogFormat = "json"
	// TextFormat emits console-style lines, for local development.
	TextFormat LogFormat = "text"
)

// Config holds the logger settings.
type Config struct {
	Level  LogLevel
	Format LogFormat
}

// DefaultConfig returns JSON output at info level.
func DefaultConfig() Config {
	return Config{Level: InfoLevel, Format: JSONFormat}
}

var zapLevels = map[LogLevel]zapcore.Level{
	DebugLevel: zapcore.DebugLevel,
	InfoLevel:  zapcore.InfoLevel,
	WarnLevel:  zapcore.WarnLevel,
	ErrorLevel: zapcore.ErrorLevel,
}

// ZapLogger implements Logger on top of uber-go/zap.
type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a ZapLogger writing to stdout. Unknown levels fall
// back to info rather than failing, so a misconfigured worker still logs.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	level, ok := zapLevels[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case TextFormat:
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{base: base, sugar: base.Sugar()}, nil
}

func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With returns a child logger carrying the extra key-value pairs.
func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{base: l.base, sugar: l.sugar.With(args...)}
}

// WithContext returns a child logger tagged with the job ID from ctx.
// A context without a job ID returns the receiver unchanged.
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if jobID := JobIDFromContext(ctx); jobID != "" {
		return l.With("job_id", jobID)
	}
	return l
}

// Sync flushes buffered entries. Call before process exit.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

// ParseLogLevel maps a config string to a LogLevel. "warning" is accepted
// as an alias for "warn".
func ParseLogLevel(level string) (LogLevel, error) {
	if level == "warning" {
		level = "warn"
	}
	parsed := LogLevel(level)
	if _, ok := zapLevels[parsed]; !ok {
		return "", fmt.Errorf("invalid log level: %s", level)
	}
	return parsed, nil
}

// ParseLogFormat maps a config string to a LogFormat. "console" is accepted
// as an alias for "text".
func ParseLogFormat(format string) (LogFormat, error) {
	switch format {
	case "json":
		return JSONFormat, nil
	case "text", "console":
		return TextFormat, nil
	default:
		return "", fmt.Errorf("invalid log format: %s", format)
	}
}
