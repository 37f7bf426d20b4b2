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

// Config is the logging section of config.yaml.
type Config struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
	// File enables a rotating JSON log file next to the console output.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
	var ec zapcore.EncoderConfig
	if dev {
		ec = zap.NewDevelopmentEncoderConfig()
	} else {
		ec = zap.NewProductionEncoderConfig()
	}
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

// InitProduction installs a JSON logger on stderr.
func InitProduction() error {
	return Init(Config{})
}

// InitDevelopment installs a console logger at debug level.
func InitDevelopment() error {
	return Init(Config{Development: true})
}

// Init builds the process logger from cfg and installs it as the zap global.
func Init(cfg Config) error {
	level := zap.InfoLevel
	if cfg.Development {
		level = zap.DebugLevel
	}
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		level = l
	}
	atom := zap.NewAtomicLevelAt(level)

	var console zapcore.Encoder
	if cfg.Development {
		console = zapcore.NewConsoleEncoder(encoderConfig(true))
	} else {
		console = zapcore.NewJSONEncoder(encoderConfig(false))
	}
	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), atom),
	}
	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig(false)), zapcore.AddSync(sink), atom))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	setLogger(zap.New(zapcore.NewTee(cores...), opts...))
	return nil
}

// setLogger replaces the package and zap global loggers.
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

// Log never returns nil; before Init it falls back to the zap global (a no-op).
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

// Sync flushes buffered entries.
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
