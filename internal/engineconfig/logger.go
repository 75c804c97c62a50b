package engineconfig

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the engine's logging config.
// Level is one of debug/info/warn/error; format is json or console.
func NewLogger(c LoggingConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	var cfg zap.Config
	switch c.Format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", c.Format)
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
