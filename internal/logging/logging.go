// Package logging builds the engine's zap logger. File output rolls by
// calendar day and by 50,000-line chunks; async mode batches writes through
// a bounded in-memory buffer flushed on a short interval and on Sync.
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultMaxLines is the per-chunk line limit before the file sink rolls.
const DefaultMaxLines = 50000

// Config selects the logger's level and output.
type Config struct {
	Level    string // debug, info, warn, error
	Dir      string // log directory; empty logs to stderr
	Async    bool   // buffer file writes in memory
	MaxLines int    // lines per chunk; 0 means DefaultMaxLines
}

// New returns a configured logger and a flush function to call at shutdown.
func New(cfg Config) (*zap.SugaredLogger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	var ws zapcore.WriteSyncer
	if cfg.Dir == "" {
		ws = zapcore.Lock(os.Stderr)
	} else {
		maxLines := cfg.MaxLines
		if maxLines <= 0 {
			maxLines = DefaultMaxLines
		}
		sink, err := newRotatingSink(cfg.Dir, maxLines)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Async {
			ws = &zapcore.BufferedWriteSyncer{
				WS:            sink,
				Size:          256 * 1024,
				FlushInterval: time.Second,
			}
		} else {
			ws = sink
		}
	}

	core := zapcore.NewCore(enc, ws, level)
	logger := zap.New(core)
	flush := func() { _ = logger.Sync() }
	return logger.Sugar(), flush, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
