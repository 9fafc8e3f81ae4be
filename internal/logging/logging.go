// Package logging builds the zap loggers used by the services.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultMaxBackups = 10

// Config controls the logger.
type Config struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	// Filename, if set, receives a JSON copy of the log, rotated by size.
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

// New returns a logger writing to stderr: JSON in production, colored
// console output in development.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(defaultLevel(cfg.Level)))); err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder(cfg.Development), zapcore.Lock(os.Stderr), level)
	if cfg.Filename != "" {
		fileCore := zapcore.NewCore(encoder(false), zapcore.AddSync(rotating(cfg)), level)
		core = zapcore.NewTee(core, fileCore)
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.DPanicLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}

func encoder(development bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	if development {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// rotating returns the size-rotated file sink.
func rotating(cfg Config) *lumberjack.Logger {
	backups := cfg.MaxBackups
	if backups == 0 {
		backups = defaultMaxBackups
	}
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: backups,
		MaxAge:     cfg.MaxAgeDays,
	}
}

func defaultLevel(l string) string {
	if l == "" {
		return "info"
	}
	return l
}
