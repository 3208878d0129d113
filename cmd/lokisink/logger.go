package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the diagnostics logger. Output goes to stderr so that
// stdout stays free for received log lines.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		c := zap.NewDevelopmentConfig()
		c.OutputPaths = []string{"stderr"}
		return c.Build()
	}
	c := zap.NewProductionConfig()
	c.Encoding = "console"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	c.Sampling = nil
	return c.Build()
}
