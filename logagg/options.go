package logagg

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/baxromumarov/taskrt/clock"
)

const (
	// DefaultInterval is the minimum spacing between records from one site
	// when no policy matches.
	DefaultInterval = time.Second
	// DefaultFlushInterval is how often the consumer sweeps quiet sites for
	// pending suppressed counts.
	DefaultFlushInterval = time.Second
	// DefaultQueueSize bounds the records waiting for the consumer.
	DefaultQueueSize = 4096
)

// Option configures an Aggregator.
type Option func(*config)

type config struct {
	clock         clock.Clock
	sink          Sink
	logger        *slog.Logger
	queueSize     int
	interval      time.Duration
	flushInterval time.Duration
	granularity   Granularity
	minLevel      Level
	globalLimit   rate.Limit
	globalBurst   int
}

func defaultConfig() config {
	return config{
		clock:         clock.Local(),
		sink:          Discard,
		queueSize:     DefaultQueueSize,
		interval:      DefaultInterval,
		flushInterval: DefaultFlushInterval,
		granularity:   PerSite,
		minLevel:      LevelInfo,
	}
}

// WithClock sets the time source for timestamps and rate limiting.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithSink sets where delivered records go. Default: [Discard].
func WithSink(s Sink) Option {
	return func(cfg *config) {
		if s != nil {
			cfg.sink = s
		}
	}
}

// WithLogger sets the logger for the aggregator's own diagnostics
// (sink failures, emits after close). Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

// WithQueueSize bounds the number of queued records. Records that find the
// queue full are counted as suppressed on their site.
func WithQueueSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.queueSize = n
		}
	}
}

// WithDefaultInterval sets the interval for sites with no matching policy.
// Zero disables limiting for them.
func WithDefaultInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.interval = d
		}
	}
}

// WithFlushInterval sets the sweep cadence for pending suppressed counts.
func WithFlushInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.flushInterval = d
		}
	}
}

// WithGranularity selects per-site or per-pattern buckets.
func WithGranularity(g Granularity) Option {
	return func(cfg *config) {
		cfg.granularity = g
	}
}

// WithMinLevel sets the default minimum level. Default: Info.
func WithMinLevel(l Level) Option {
	return func(cfg *config) {
		cfg.minLevel = l
	}
}

// WithGlobalRate caps the records per second admitted across all sites
// with a token bucket. Records denied by it count as suppressed on their
// own site.
func WithGlobalRate(limit rate.Limit, burst int) Option {
	return func(cfg *config) {
		cfg.globalLimit = limit
		cfg.globalBurst = burst
	}
}
