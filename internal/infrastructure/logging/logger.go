package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerName is the root name of every sensor logger
const LoggerName = "instana"

// Sampling limits repeated messages per second in production. The sensor
// shares stderr with the host application.
const (
	SampleInitial    = 10
	SampleThereafter = 100
)

// Config defines logger configuration
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
	// NoSampling keeps every entry in production
	NoSampling bool
}

// DefaultConfig returns production logger configuration
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		OutputPaths: []string{"stderr"},
	}
}

// DevelopmentConfig returns the configuration INSTANA_DEBUG selects
func DevelopmentConfig() Config {
	return Config{
		Level:       "debug",
		Development: true,
		OutputPaths: []string{"stderr"},
	}
}

// New creates the sensor's root logger. Every entry carries the process id
// so several instrumented processes can share one log collector.
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encodingFormat(cfg.Development),
		EncoderConfig:     encoderConfig(cfg.Development),
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
		InitialFields:     map[string]any{"pid": os.Getpid()},
	}
	if !cfg.Development && !cfg.NoSampling {
		zapCfg.Sampling = &zap.SamplingConfig{
			Initial:    SampleInitial,
			Thereafter: SampleThereafter,
		}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger.Named(LoggerName), nil
}

// NewDefault creates a production logger, falling back to a no-op logger
func NewDefault() *zap.Logger {
	return NewOrNop(DefaultConfig())
}

// NewDevelopment creates a debug logger, falling back to a no-op logger
func NewDevelopment() *zap.Logger {
	return NewOrNop(DevelopmentConfig())
}

// NewOrNop builds a logger, or a no-op logger when cfg is invalid. A broken
// logging setup must never stop the host application.
func NewOrNop(cfg Config) *zap.Logger {
	logger, err := New(cfg)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func encodingFormat(development bool) string {
	if development {
		return "console"
	}
	return "json"
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder
	return cfg
}
