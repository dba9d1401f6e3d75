package taskrt

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/baxromumarov/taskrt/chanx"
	"github.com/baxromumarov/taskrt/ident"
	"github.com/baxromumarov/taskrt/logagg"
	logsink "github.com/baxromumarov/taskrt/sink"
)

// SupervisorSite is the log site for task panics and shutdown reports.
const SupervisorSite = "taskrt.supervisor"

// Level aliases so callers of [Runtime.Log] need not import logagg.
type Level = logagg.Level

const (
	LevelTrace = logagg.LevelTrace
	LevelDebug = logagg.LevelDebug
	LevelInfo  = logagg.LevelInfo
	LevelWarn  = logagg.LevelWarn
	LevelError = logagg.LevelError
)

// Runtime bundles a task supervisor with a rate-limited log aggregator
// and the clock and ID sources both share. It is the entry point for host
// programs embedding the runtime.
type Runtime struct {
	sup     *Supervisor
	agg     *logagg.Aggregator
	cfg     config
	drained *chanx.Event
}

// New creates a Runtime and starts its log consumer. Tasks are cancelled
// when ctx is. Call [Runtime.Shutdown] to stop it.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg := buildConfig(opts)

	sink := cfg.sink
	if sink == nil {
		sink = logsink.Auto(os.Stderr)
	}
	logOpts := append([]logagg.Option{
		logagg.WithClock(cfg.clock),
		logagg.WithSink(sink),
		logagg.WithLogger(cfg.logger),
	}, cfg.logOpts...)
	agg := logagg.New(logOpts...)

	// Panics must never be rate limited away.
	if err := agg.SetRatePolicy(SupervisorSite, 0); err != nil {
		return nil, err
	}
	for _, p := range cfg.ratePolicies {
		if err := agg.SetRatePolicy(p.pattern, p.interval); err != nil {
			return nil, err
		}
	}
	for prefix, l := range cfg.siteLevels {
		agg.SetSiteLevel(prefix, l)
	}

	supCfg := cfg
	supCfg.logger = logagg.NewLogger(agg, SupervisorSite)

	r := &Runtime{
		sup:     newSupervisor(ctx, supCfg),
		agg:     agg,
		cfg:     cfg,
		drained: chanx.NewEvent(),
	}
	go func() {
		defer r.drained.Set()
		if err := agg.Drain(context.Background()); err != nil {
			cfg.logger.Error("log consumer stopped", "error", err)
		}
	}()
	return r, nil
}

// Supervisor returns the task supervisor.
func (r *Runtime) Supervisor() *Supervisor { return r.sup }

// Aggregator returns the log aggregator.
func (r *Runtime) Aggregator() *logagg.Aggregator { return r.agg }

// Root returns the root scope.
func (r *Runtime) Root() *Scope { return r.sup.Root() }

// NewScope creates a child of the root scope. Cancel it once it is no
// longer needed; see [Scope.NewScope].
func (r *Runtime) NewScope(name string) *Scope { return r.sup.Root().NewScope(name) }

// Spawn starts a task in the root scope.
func (r *Runtime) Spawn(name string, fn TaskFunc) *Handle { return r.sup.Spawn(name, fn) }

// SpawnScoped starts a task in scope.
func (r *Runtime) SpawnScoped(scope *Scope, name string, fn TaskFunc) *Handle {
	return scope.Spawn(name, fn)
}

// SpawnBlocking starts a task in the root scope on the blocking pool.
func (r *Runtime) SpawnBlocking(name string, fn func(ctx context.Context) error) *Handle {
	return r.sup.SpawnBlocking(name, fn)
}

// Cancel cancels scope and everything beneath it.
func (r *Runtime) Cancel(scope *Scope) { scope.Cancel() }

// Log emits a record at site. Inside a task, ctx carries the task's
// correlation ID. Log never blocks and never fails.
func (r *Runtime) Log(ctx context.Context, level Level, site, msg string, fields map[string]any) {
	r.agg.Log(ctx, level, site, msg, fields)
}

// Logger returns an slog.Logger that writes through the aggregator at
// site.
func (r *Runtime) Logger(site string) *slog.Logger {
	return logagg.NewLogger(r.agg, site)
}

// SetRatePolicy sets the minimum interval between records from sites
// matching pattern.
func (r *Runtime) SetRatePolicy(pattern string, interval time.Duration) error {
	return r.agg.SetRatePolicy(pattern, interval)
}

// SetLevel sets the default minimum log level.
func (r *Runtime) SetLevel(l Level) { r.agg.SetLevel(l) }

// SetSiteLevel sets the minimum log level for prefix and sites below it.
func (r *Runtime) SetSiteLevel(prefix string, l Level) { r.agg.SetSiteLevel(prefix, l) }

// NewID returns a fresh correlation ID from the runtime's generator.
func (r *Runtime) NewID() ident.ID { return r.cfg.ids.New() }

// Now returns the runtime clock's current time.
func (r *Runtime) Now() time.Time { return r.cfg.clock.Now() }

// TaskStats returns the supervisor counters.
func (r *Runtime) TaskStats() Stats { return r.sup.Stats() }

// LogStats returns the aggregator counters.
func (r *Runtime) LogStats() logagg.Stats { return r.agg.Stats() }

// Shutdown cancels every task, waits for them, then flushes the log
// aggregator, all within timeout. The report lists tasks still live at
// the deadline; LogErr is set if the flush did not finish in time.
func (r *Runtime) Shutdown(timeout time.Duration) ShutdownReport {
	start := time.Now()
	deadline := start.Add(timeout)
	rep := r.sup.Shutdown(timeout)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := r.agg.Close(ctx); err != nil {
		rep.LogErr = err
	} else if err := r.drained.Wait(ctx); err != nil {
		rep.LogErr = err
	}
	rep.Elapsed = time.Since(start)
	return rep
}
