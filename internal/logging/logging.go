// Package logging builds the zap logger from the [Log] section. Levels use
// the MMDVM numbering found in companion and gateway configs: 0 disables a
// sink, 1 is debug, 2 and 3 are info, 4 is warn and 5 or more is error.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options mirrors the [Log] section
type Options struct {
	DisplayLevel uint32
	FileLevel    uint32
	FilePath     string
	FileRoot     string
}

// Level maps an MMDVM log level to a zap level. ok is false for 0 (off).
func Level(level uint32) (lvl zapcore.Level, ok bool) {
	switch {
	case level == 0:
		return zapcore.InvalidLevel, false
	case level == 1:
		return zapcore.DebugLevel, true
	case level <= 3:
		return zapcore.InfoLevel, true
	case level == 4:
		return zapcore.WarnLevel, true
	default:
		return zapcore.ErrorLevel, true
	}
}

// New builds a logger writing human readable lines to console and, when
// FileLevel and FileRoot are set, JSON lines to FilePath/FileRoot-YYYY-MM-DD.log.
// The returned close function flushes and closes the file.
func New(opts Options, console io.Writer, now time.Time) (*zap.Logger, func() error, error) {
	var cores []zapcore.Core
	closeFn := func() error { return nil }

	if lvl, ok := Level(opts.DisplayLevel); ok && console != nil {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.Lock(zapcore.AddSync(console)),
			lvl,
		))
	}

	if lvl, ok := Level(opts.FileLevel); ok && opts.FileRoot != "" {
		dir := opts.FilePath
		if dir == "" {
			dir = "."
		}
		name := filepath.Join(dir, fmt.Sprintf("%s-%s.log", opts.FileRoot, now.Format("2006-01-02")))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", name, err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			lvl,
		))
		closeFn = f.Close
	}

	if len(cores) == 0 {
		return zap.NewNop(), closeFn, nil
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}
