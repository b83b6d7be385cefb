/**
 * @description
 * Builds the service's zap logger: JSON with ISO-8601 timestamps in production and a
 * colored console encoder everywhere else.
 */
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for env. level overrides the default level when it parses.
func New(env, level string) (*zap.Logger, error) {
	var config zap.Config

	if strings.EqualFold(strings.TrimSpace(env), "production") {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if lvl := strings.TrimSpace(level); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err == nil {
			config.Level = zap.NewAtomicLevelAt(parsed)
		}
	}

	return config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}
