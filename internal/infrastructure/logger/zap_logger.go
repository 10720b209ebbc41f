package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production JSON logger at the given level. An empty
// level means info; an unknown level is an error.
func NewLogger(level string) (*zap.Logger, error) {
	l := zapcore.InfoLevel
	if level != "" {
		var err error
		if l, err = zapcore.ParseLevel(level); err != nil {
			return nil, err
		}
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(l)
	return config.Build()
}
