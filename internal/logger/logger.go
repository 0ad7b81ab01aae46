// Package logger configures the process-wide zap logger.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ProdStage = "prod"

// Log is the global logger instance. It is a no-op until InitLogger runs.
var Log = zap.NewNop()

type Config struct {
	Level       string
	Stage       string
	EnableJSON  bool
	EnableColor bool
}

// InitLogger configures Log for stage, reading the level from LOG_LEVEL.
func InitLogger(stage string) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	InitLoggerWithConfig(Config{
		Level:       level,
		Stage:       stage,
		EnableJSON:  stage == ProdStage,
		EnableColor: stage != ProdStage,
	})
}

func InitLoggerWithConfig(cfg Config) {
	logger, err := Build(cfg)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	Log = logger
}

// Build returns a logger for cfg without touching the global.
func Build(cfg Config) (*zap.Logger, error) {
	level := ParseLevel(cfg.Level)

	var zapCfg zap.Config
	if cfg.EnableJSON {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapCfg.InitialFields = map[string]interface{}{
			"service": "shieldtrade",
			"stage":   cfg.Stage,
		}
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		if cfg.EnableColor {
			zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.DisableStacktrace = cfg.Stage == ProdStage && level > zapcore.DebugLevel

	return zapCfg.Build()
}

func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
