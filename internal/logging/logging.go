// Package logging builds the zap logger shared by the server and the CLI.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON logger writing to stderr and, when logFile is set, to a
// rotating file as well.
func New(level, logFile string) *zap.Logger {
	lvl := ParseLevel(level)
	cores := []zapcore.Core{
		zapcore.NewCore(jsonEncoder(), zapcore.Lock(os.Stderr), lvl),
	}
	if logFile != "" {
		cores = append(cores, fileCore(lvl, logFile))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// NewFileOnly logs to the rotating file alone. Interactive tools use it to keep
// the terminal clean.
func NewFileOnly(level, logFile string) *zap.Logger {
	return zap.New(fileCore(ParseLevel(level), logFile), zap.AddCaller())
}

func jsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func fileCore(lvl zapcore.Level, logFile string) zapcore.Core {
	return zapcore.NewCore(jsonEncoder(),
		zapcore.AddSync(&lumberjack.Logger{
			Filename: logFile, MaxSize: 100, MaxAge: 28, Compress: true,
		}),
		lvl,
	)
}

// ParseLevel maps the LOG_LEVEL values used in .env files to zap levels.
// Unknown values fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zap.DebugLevel
	case "WARN", "WARNING":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
