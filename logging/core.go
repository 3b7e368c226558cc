package logging

import (
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	FieldTimestamp  = "timestamp"
	FieldLevel      = "level"
	FieldSource     = "source"
	FieldMessage    = "message"
	FieldCaller     = "caller"
	FieldStacktrace = "stacktrace"
)

// NewTeeCore builds the console core and, when file is non-nil, a JSON file
// core at the same level.
func NewTeeCore(level zapcore.Level, console, file zapcore.WriteSyncer, development bool) zapcore.Core {
	var consoleEncoder zapcore.Encoder
	if development {
		consoleEncoder = zapcore.NewConsoleEncoder(ConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(JSONEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, console, level)}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(JSONEncoderConfig()), file, level))
	}
	return zapcore.NewTee(cores...)
}

// JSONEncoderConfig is used for the file sink and for production consoles.
func JSONEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        FieldTimestamp,
		LevelKey:       FieldLevel,
		NameKey:        FieldSource,
		CallerKey:      FieldCaller,
		MessageKey:     FieldMessage,
		StacktraceKey:  FieldStacktrace,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// ConsoleEncoderConfig is the human readable development layout.
func ConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := JSONEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05.000"))
	}
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}
