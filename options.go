package taskrt

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/baxromumarov/taskrt/clock"
	"github.com/baxromumarov/taskrt/ident"
	"github.com/baxromumarov/taskrt/logagg"
)

// EventKind classifies a [TaskEvent].
type EventKind int

const (
	EventStarted EventKind = iota
	EventDone
	EventErrored
	EventPanicked
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventDone:
		return "done"
	case EventErrored:
		return "errored"
	case EventPanicked:
		return "panicked"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TaskEvent is delivered to the [WithOnEvent] hook on every task state
// change.
type TaskEvent struct {
	Kind     EventKind
	Task     TaskInfo
	Err      error
	Duration time.Duration
}

type ratePolicy struct {
	pattern  string
	interval time.Duration
}

type config struct {
	workers         int
	blockingWorkers int
	onStart         func(TaskInfo)
	onDone          func(TaskInfo, error, time.Duration)
	onEvent         func(TaskEvent)
	logger          *slog.Logger
	clock           clock.Clock
	ids             *ident.Generator

	sink         logagg.Sink
	logOpts      []logagg.Option
	ratePolicies []ratePolicy
	siteLevels   map[string]logagg.Level
}

// Option configures a [Supervisor] or a [Runtime].
type Option func(*config)

func defaultConfig() config {
	return config{
		blockingWorkers: 2 * runtime.GOMAXPROCS(0),
		clock:           clock.Local(),
	}
}

func buildConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ids == nil {
		cfg.ids = ident.NewSecure()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

// WithWorkers bounds the number of tasks running at once. Tasks beyond
// the limit wait for a slot, and the wait itself is cancellable. A parent
// holds its slot while it runs, so a limit smaller than the depth of a
// task tree whose parents wait on their children can deadlock.
//
// Zero (the default) means unbounded: goroutines are multiplexed by the Go
// scheduler over GOMAXPROCS threads. WithWorkers panics if n is negative.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n < 0 {
			panic("taskrt: workers must be non-negative")
		}
		c.workers = n
	}
}

// WithBlockingWorkers sets the size of the pool that runs
// [Scope.SpawnBlocking] tasks. Default: 2*GOMAXPROCS. Panics if n <= 0.
func WithBlockingWorkers(n int) Option {
	return func(c *config) {
		if n <= 0 {
			panic("taskrt: blocking workers must be positive")
		}
		c.blockingWorkers = n
	}
}

// WithOnStart registers a hook invoked when each task begins executing.
// The hook runs inside the task's goroutine before the task function; a
// panic in it is recovered like a task panic.
func WithOnStart(fn func(TaskInfo)) Option {
	return func(c *config) {
		c.onStart = fn
	}
}

// WithOnDone registers a hook invoked when each task reaches a terminal
// state, with its outcome error and wall-clock duration.
func WithOnDone(fn func(TaskInfo, error, time.Duration)) Option {
	return func(c *config) {
		c.onDone = fn
	}
}

// WithOnEvent registers a hook receiving a [TaskEvent] for every state
// change.
func WithOnEvent(fn func(TaskEvent)) Option {
	return func(c *config) {
		c.onEvent = fn
	}
}

// WithLogger sets the logger for the runtime's own diagnostics. Default:
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithClock sets the time source for task timestamps and log records.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithSeed makes task and correlation IDs, and retry jitter,
// reproducible. Use it only in tests.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.ids = ident.NewSeeded(seed)
	}
}

// WithIDGenerator sets the ID source directly.
func WithIDGenerator(g *ident.Generator) Option {
	return func(c *config) {
		c.ids = g
	}
}

// WithSink sets where a [Runtime] writes log records. Default: stderr,
// as text on a terminal and JSON lines otherwise.
func WithSink(s logagg.Sink) Option {
	return func(c *config) {
		c.sink = s
	}
}

// WithLogOptions passes options through to the runtime's log aggregator.
func WithLogOptions(opts ...logagg.Option) Option {
	return func(c *config) {
		c.logOpts = append(c.logOpts, opts...)
	}
}

// WithRatePolicy installs a log rate policy when a [Runtime] is created.
func WithRatePolicy(pattern string, interval time.Duration) Option {
	return func(c *config) {
		c.ratePolicies = append(c.ratePolicies, ratePolicy{pattern, interval})
	}
}

// WithSiteLevel sets a minimum log level for prefix when a [Runtime] is
// created.
func WithSiteLevel(prefix string, l logagg.Level) Option {
	return func(c *config) {
		if c.siteLevels == nil {
			c.siteLevels = make(map[string]logagg.Level)
		}
		c.siteLevels[prefix] = l
	}
}
