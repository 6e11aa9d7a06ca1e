package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	Service     string
	Level       string // debug, info, warn or error; empty means info
	Environment string
	Development bool
}

// New builds the process logger and installs it as the zap global. Every line
// carries the service name, the environment when set, and fields.
func New(opts Options, fields ...zap.Field) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg.Development = true
		cfg.Sampling = nil
	}
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	level := opts.Level
	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	base := []zap.Field{zap.String("service", opts.Service)}
	if opts.Environment != "" {
		base = append(base, zap.String("env", opts.Environment))
	}
	log, err := cfg.Build(zap.Fields(append(base, fields...)...))
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)
	return log, nil
}

// TurnFields are the fields every chat-turn log line carries.
func TurnFields(shop, sessionID string) []zap.Field {
	return []zap.Field{
		zap.String("shop", shop),
		zap.String("session_id", sessionID),
	}
}
