// Package config decodes a runtime configuration supplied by the host as
// YAML and turns it into [taskrt.Option] values.
//
//	workers: 8
//	timezone: Asia/Tashkent
//	shutdown_timeout: 10s
//	log:
//	  level: info
//	  output: json
//	  policies:
//	    - pattern: "db.*"
//	      interval: 5s
//	  levels:
//	    db: warn
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/baxromumarov/taskrt"
	"github.com/baxromumarov/taskrt/clock"
	rterrors "github.com/baxromumarov/taskrt/errors"
	"github.com/baxromumarov/taskrt/logagg"
	"github.com/baxromumarov/taskrt/sink"
)

// Output names accepted by Log.Output.
const (
	OutputAuto = "auto"
	OutputJSON = "json"
	OutputText = "text"
	OutputZap  = "zap"
)

// Config is the host-facing configuration of a runtime.
type Config struct {
	// Workers bounds concurrently running tasks; 0 means unbounded.
	Workers int `yaml:"workers"`
	// BlockingWorkers sizes the blocking pool; 0 keeps the default.
	BlockingWorkers int `yaml:"blocking_workers"`
	// Timezone names the zone for timestamps; empty means local.
	Timezone        string   `yaml:"timezone"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	Log             Log      `yaml:"log"`
}

// Log configures the log aggregator and its sink.
type Log struct {
	Level           logagg.Level      `yaml:"level"`
	Granularity     string            `yaml:"granularity"`
	DefaultInterval Duration          `yaml:"default_interval"`
	FlushInterval   Duration          `yaml:"flush_interval"`
	QueueSize       int               `yaml:"queue_size"`
	GlobalRate      float64           `yaml:"global_rate"`
	GlobalBurst     int               `yaml:"global_burst"`
	Output          string            `yaml:"output"`
	File            File              `yaml:"file"`
	Policies        []Policy          `yaml:"policies"`
	Levels          map[string]string `yaml:"levels"`
}

// Policy is one rate policy.
type Policy struct {
	Pattern  string   `yaml:"pattern"`
	Interval Duration `yaml:"interval"`
}

// File configures the zap output.
type File struct {
	Path        string `yaml:"path"`
	Console     bool   `yaml:"console"`
	Development bool   `yaml:"development"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
}

// Default returns the configuration used when the host supplies none.
func Default() Config {
	z := sink.DefaultZapConfig()
	return Config{
		ShutdownTimeout: Duration(10 * time.Second),
		Log: Log{
			Level:           logagg.LevelInfo,
			Granularity:     logagg.PerSite.String(),
			DefaultInterval: Duration(logagg.DefaultInterval),
			FlushInterval:   Duration(logagg.DefaultFlushInterval),
			QueueSize:       logagg.DefaultQueueSize,
			Output:          OutputAuto,
			File: File{
				MaxSizeMB:  z.MaxSizeMB,
				MaxBackups: z.MaxBackups,
				MaxAgeDays: z.MaxAgeDays,
				Compress:   z.Compress,
			},
		},
	}
}

// Parse decodes YAML over [Default] and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if rterrors.CodeOf(err) != "" {
			return Config{}, err
		}
		return Config{}, rterrors.Wrap(rterrors.ErrCodeParse, "invalid config", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and names without building anything.
func (c Config) Validate() error {
	invalid := func(field string, value any) error {
		return rterrors.NewWithContext(rterrors.ErrCodeInvalidConfig, "invalid config value",
			map[string]any{"field": field, "value": value})
	}
	switch {
	case c.Workers < 0:
		return invalid("workers", c.Workers)
	case c.BlockingWorkers < 0:
		return invalid("blocking_workers", c.BlockingWorkers)
	case c.ShutdownTimeout <= 0:
		return invalid("shutdown_timeout", c.ShutdownTimeout.D())
	case c.Log.QueueSize <= 0:
		return invalid("log.queue_size", c.Log.QueueSize)
	case c.Log.FlushInterval <= 0:
		return invalid("log.flush_interval", c.Log.FlushInterval.D())
	case c.Log.GlobalRate < 0:
		return invalid("log.global_rate", c.Log.GlobalRate)
	case c.Log.GlobalRate > 0 && c.Log.GlobalBurst <= 0:
		return invalid("log.global_burst", c.Log.GlobalBurst)
	}
	if _, err := clock.LoadZone(c.Timezone); err != nil {
		return err
	}
	if _, err := logagg.ParseGranularity(c.Log.Granularity); err != nil {
		return err
	}
	switch c.Log.Output {
	case OutputAuto, OutputJSON, OutputText, OutputZap:
	default:
		return invalid("log.output", c.Log.Output)
	}
	for prefix, l := range c.Log.Levels {
		if _, err := logagg.ParseLevel(l); err != nil {
			return rterrors.WrapWithContext(rterrors.ErrCodeParse, "invalid site level", err,
				map[string]any{"site": prefix})
		}
	}
	return nil
}

// Options converts c into runtime options. The returned close function
// releases the sink's resources and must be called after
// [taskrt.Runtime.Shutdown].
func (c Config) Options() ([]taskrt.Option, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	loc, _ := clock.LoadZone(c.Timezone)
	gran, _ := logagg.ParseGranularity(c.Log.Granularity)

	out, closeSink, err := c.Log.sink()
	if err != nil {
		return nil, nil, err
	}

	opts := []taskrt.Option{
		taskrt.WithWorkers(c.Workers),
		taskrt.WithClock(clock.System(loc)),
		taskrt.WithSink(out),
	}
	if c.BlockingWorkers > 0 {
		opts = append(opts, taskrt.WithBlockingWorkers(c.BlockingWorkers))
	}

	logOpts := []logagg.Option{
		logagg.WithMinLevel(c.Log.Level),
		logagg.WithGranularity(gran),
		logagg.WithDefaultInterval(c.Log.DefaultInterval.D()),
		logagg.WithFlushInterval(c.Log.FlushInterval.D()),
		logagg.WithQueueSize(c.Log.QueueSize),
	}
	if c.Log.GlobalRate > 0 {
		logOpts = append(logOpts, logagg.WithGlobalRate(rate.Limit(c.Log.GlobalRate), c.Log.GlobalBurst))
	}
	opts = append(opts, taskrt.WithLogOptions(logOpts...))

	for _, p := range c.Log.Policies {
		opts = append(opts, taskrt.WithRatePolicy(p.Pattern, p.Interval.D()))
	}
	for prefix, l := range c.Log.Levels {
		lvl, _ := logagg.ParseLevel(l)
		opts = append(opts, taskrt.WithSiteLevel(prefix, lvl))
	}
	return opts, closeSink, nil
}

func (l Log) sink() (logagg.Sink, func() error, error) {
	noop := func() error { return nil }
	switch l.Output {
	case OutputJSON:
		return sink.JSON(os.Stderr), noop, nil
	case OutputText:
		return sink.Text(os.Stderr), noop, nil
	case OutputZap:
		z, err := sink.NewZap(sink.ZapConfig{
			Path:        l.File.Path,
			Console:     l.File.Console,
			Development: l.File.Development,
			MaxSizeMB:   l.File.MaxSizeMB,
			MaxBackups:  l.File.MaxBackups,
			MaxAgeDays:  l.File.MaxAgeDays,
			Compress:    l.File.Compress,
		})
		if err != nil {
			return nil, nil, err
		}
		return z, z.Close, nil
	default:
		return sink.Auto(os.Stderr), noop, nil
	}
}
