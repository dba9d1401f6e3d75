package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/baxromumarov/taskrt/logagg"
)

// ZapConfig configures a zap-backed sink.
type ZapConfig struct {
	// Path enables a rotating log file. Empty means console only.
	Path string
	// Console also writes to stdout when Path is set.
	Console bool
	// Development selects zap's console encoder with colored levels.
	Development bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultZapConfig returns rotation defaults of 100MB per file, five
// backups, and 28 days retention.
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// Zap writes records through a zapcore.Core, preserving each record's
// own timestamp. The site becomes the logger name.
type Zap struct {
	core zapcore.Core
	file *lumberjack.Logger
}

// NewZap builds a zap sink from cfg.
func NewZap(cfg ZapConfig) (*Zap, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.NameKey = "site"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	consoleCfg := encCfg
	var consoleEnc zapcore.Encoder
	if cfg.Development {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(consoleCfg)
	} else {
		consoleEnc = zapcore.NewJSONEncoder(consoleCfg)
	}
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)

	if cfg.Path == "" {
		return NewZapFromCore(zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stdout), level)), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level)
	if cfg.Console {
		core = zapcore.NewTee(core, zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stdout), level))
	}
	return &Zap{core: core, file: file}, nil
}

// NewZapFromCore wraps an existing core.
func NewZapFromCore(core zapcore.Core) *Zap {
	return &Zap{core: core}
}

// Write implements logagg.Sink.
func (z *Zap) Write(rec logagg.Record) error {
	ent := zapcore.Entry{
		Level:      zapLevel(rec.Level),
		Time:       rec.Time,
		LoggerName: rec.Site,
		Message:    rec.Message,
	}
	ce := z.core.Check(ent, nil)
	if ce == nil {
		return nil
	}

	fields := make([]zap.Field, 0, len(rec.Fields)+1)
	for k, v := range rec.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	if !rec.CorrelationID.IsNil() {
		fields = append(fields, zap.String("correlation_id", rec.CorrelationID.String()))
	}
	ce.Write(fields...)
	return nil
}

// Flush syncs the core.
func (z *Zap) Flush() error {
	return z.core.Sync()
}

// Close flushes and closes the rotating file, if any.
func (z *Zap) Close() error {
	err := z.Flush()
	if z.file != nil {
		if cerr := z.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// zap has no trace level; trace records are written as debug.
func zapLevel(l logagg.Level) zapcore.Level {
	switch l {
	case logagg.LevelTrace, logagg.LevelDebug:
		return zapcore.DebugLevel
	case logagg.LevelInfo:
		return zapcore.InfoLevel
	case logagg.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
