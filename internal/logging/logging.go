// Package logging constructs the daemon's structured logger: JSON output
// to a size/age-rotated file via lumberjack, optionally duplicated to
// stderr for foreground/--service runs. The teacher's own service loop
// logs through the standard library's "log" package; a long-running
// privileged daemon handling hardware and IPC warrants structured,
// rotated output instead, so this package reaches for the zap/lumberjack
// combination the rest of the ecosystem uses for exactly this daemon
// shape (other_examples/manifests/leptonai-gpud,
// other_examples/manifests/ruaan-deysel-unraid-management-agent).
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogPath is where the daemon writes its rotated log file.
const DefaultLogPath = "/var/log/hyperfand/hyperfand.log"

// Options configures log construction.
type Options struct {
	Path       string // defaults to DefaultLogPath if empty
	MaxSizeMB  int    // defaults to 50
	MaxBackups int    // defaults to 5
	MaxAgeDays int    // defaults to 28
	Console    bool   // also write human-readable logs to stderr
	Debug      bool   // enable debug-level logging
}

// New builds a zap.Logger writing JSON-encoded records to a rotating file,
// and optionally a console-encoded stream to stderr (spec SPEC_FULL.md
// "Logging").
func New(opts Options) (*zap.Logger, error) {
	path := opts.Path
	if path == "" {
		path = DefaultLogPath
	}
	maxSize := opts.MaxSizeMB
	if maxSize == 0 {
		maxSize = 50
	}
	maxBackups := opts.MaxBackups
	if maxBackups == 0 {
		maxBackups = 5
	}
	maxAge := opts.MaxAgeDays
	if maxAge == 0 {
		maxAge = 28
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level),
	}
	if opts.Console {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), level))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}
