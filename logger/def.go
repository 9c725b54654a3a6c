package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// Config selects the encoder, level and optional rotating log file.
type Config struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB" validate:"gte=0"`
	MaxBackups  int    `yaml:"maxBackups" validate:"gte=0"`
	MaxAgeDays  int    `yaml:"maxAgeDays" validate:"gte=0"`
}

// Init builds the process logger from cfg and installs it as the zap global.
func Init(cfg Config) error {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := zcfg.Build()
	if err != nil {
		return err
	}
	if cfg.File != "" {
		l = l.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore(cfg, zcfg))
		}))
	}
	setLogger(l)
	return nil
}

// InitProduction keeps the JSON production defaults.
func InitProduction() error {
	return Init(Config{})
}

// InitDevelopment logs human-readable lines to the console.
func InitDevelopment() error {
	return Init(Config{Development: true})
}

func fileCore(cfg Config, zcfg zap.Config) zapcore.Core {
	rotate := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  true,
		Compress:   true,
	}
	// files always get JSON, whatever the console encoder is
	enc := zapcore.NewJSONEncoder(zcfg.EncoderConfig)
	return zapcore.NewCore(enc, zapcore.AddSync(rotate), zcfg.Level)
}

func setLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// Log returns the configured logger, or the zap global before Init.
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	return zap.L()
}

func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if sugar != nil {
		return sugar
	}
	return zap.S()
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}

// Fatal logs err and exits with status 1.
func Fatal(msg string, err error) {
	Log().Error(msg, zap.Error(err))
	Sync()
	os.Exit(1)
}

// With attaches fields to every later entry from Log and S.
func With(fields ...zap.Field) {
	setLogger(Log().With(fields...))
}
