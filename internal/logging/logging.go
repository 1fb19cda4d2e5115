// ABOUTME: Logger construction for the binaries
// ABOUTME: Writes to a log file and optionally mirrors to stdout
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls where logs go
type Config struct {
	File    string // empty disables the file sink
	Console bool   // mirror to stdout
	Debug   bool
}

// New builds a sugared logger. The returned func flushes and closes the file.
func New(cfg Config) (*zap.SugaredLogger, func(), error) {
	var writers []io.Writer
	var file *os.File

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}
	if cfg.Console {
		writers = append(writers, os.Stdout)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000")

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(io.MultiWriter(writers...)),
		level,
	)

	logger := zap.New(core).Sugar()
	cleanup := func() {
		_ = logger.Sync()
		if file != nil {
			_ = file.Close()
		}
	}

	return logger, cleanup, nil
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
