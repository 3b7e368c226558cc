// Package logging wraps zap with the conventions used across the bot:
// a console core teed with a rotating JSON file core, named child loggers
// per package, and redaction of secrets before anything reaches a sink.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how New builds a Logger.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// Development switches the console to the colored console encoder and
	// forces debug level.
	Development bool

	// FilePath enables the JSON file core. Empty logs to the console only.
	FilePath string

	// File tunes rotation of FilePath.
	File FileWriterConfig
}

// Logger is a thin wrapper over *zap.Logger that redacts sensitive fields.
type Logger struct {
	zap   *zap.Logger
	level zapcore.Level
}

// New builds a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level, zapcore.InfoLevel)
	if cfg.Development {
		level = zapcore.DebugLevel
	}

	console := zapcore.Lock(zapcore.AddSync(os.Stdout))

	var file zapcore.WriteSyncer
	if cfg.FilePath != "" {
		w, err := NewFileWriter(cfg.FilePath, cfg.File)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		file = w
	}

	return NewWithCore(NewTeeCore(level, console, file, cfg.Development), level), nil
}

// NewWithCore wraps an existing core. Tests use it with zaptest/observer.
func NewWithCore(core zapcore.Core, level zapcore.Level) *Logger {
	return &Logger{
		zap:   zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
		level: level,
	}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop(), level: zapcore.FatalLevel}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.zap.Fatal(msg, redactFields(fields)...)
}

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(redactFields(fields)...), level: l.level}
}

// Named returns a child logger whose entries carry name as their source.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name), level: l.level}
}

// Zap exposes the underlying logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Level reports the minimum enabled level.
func (l *Logger) Level() zapcore.Level {
	return l.level
}

// Sync flushes buffered entries. Safe on a nil receiver.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zap.Field) zap.Field {
	if IsSensitiveKey(f.Key) {
		return zap.String(f.Key, RedactedPlaceholder)
	}
	if f.Type == zapcore.StringType {
		if r := Redact(f.String); r != f.String {
			return zap.String(f.Key, r)
		}
	}
	return f
}
