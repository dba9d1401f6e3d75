package logagg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/baxromumarov/taskrt/chanx"
	"github.com/baxromumarov/taskrt/clock"
	rterrors "github.com/baxromumarov/taskrt/errors"
	"github.com/baxromumarov/taskrt/ident"
	"github.com/baxromumarov/taskrt/keyhash"
)

// ErrConsumerActive is returned by Drain when another consumer is running.
var ErrConsumerActive = rterrors.New(rterrors.ErrCodeInternal, "log consumer already active")

const summaryMessage = "%d records suppressed"

// bucket is the rate-limit state for one site, or one pattern under
// PerPattern granularity.
type bucket struct {
	label      string
	interval   atomic.Int64 // nanoseconds; 0 disables limiting
	lastEmit   atomic.Int64 // unix nanoseconds; 0 means never
	suppressed atomic.Int64
}

// admit reports whether a record at now may pass, claiming the slot.
func (b *bucket) admit(now int64) bool {
	iv := b.interval.Load()
	for {
		last := b.lastEmit.Load()
		if iv > 0 && last != 0 && now-last < iv {
			return false
		}
		if b.lastEmit.CompareAndSwap(last, now) {
			return true
		}
	}
}

// siteEntry caches a site's resolved bucket and minimum level for one
// policy generation.
type siteEntry struct {
	gen      uint64
	bucket   *bucket
	minLevel Level
}

type envelope struct {
	rec        Record
	bucket     *bucket
	suppressed int64
}

// Stats is a snapshot of aggregator counters.
type Stats struct {
	// Emitted counts records offered to Emit that passed the level filter.
	Emitted uint64
	// Filtered counts records below their site's minimum level.
	Filtered uint64
	// Delivered counts records handed to the sink.
	Delivered uint64
	// Suppressed counts records withheld by a rate limit.
	Suppressed uint64
	// Dropped counts records that found the queue full or raced Close.
	Dropped uint64
	// Summaries counts synthetic summary records written.
	Summaries uint64
	// Reported is the sum of counts carried by summary records.
	Reported uint64
	// SinkErrors counts failed or panicking sink writes.
	SinkErrors uint64
	// Queued is the number of records waiting for the consumer.
	Queued int
}

// Aggregator collects records from any number of goroutines and writes
// them to a Sink from a single consumer.
type Aggregator struct {
	clock         clock.Clock
	sink          Sink
	log           *slog.Logger
	granularity   Granularity
	flushInterval time.Duration
	limiter       *rate.Limiter

	ch *chanx.Closable[envelope]

	mu        sync.RWMutex // guards policies, levels, defaults
	policies  []policy
	levels    map[string]Level
	minLevel  Level
	interval  time.Duration
	gen       atomic.Uint64
	sites     *keyhash.Map[*siteEntry]
	buckets   *keyhash.Map[*bucket]
	consuming atomic.Bool
	closed    atomic.Bool
	emitting  atomic.Int64 // Emit calls in progress
	closeOnce sync.Once
	stopped   *chanx.Event

	closedLogged  atomic.Bool
	sinkErrLogged atomic.Bool

	emitted    atomic.Uint64
	filtered   atomic.Uint64
	delivered  atomic.Uint64
	suppressed atomic.Uint64
	dropped    atomic.Uint64
	summaries  atomic.Uint64
	reported   atomic.Uint64
	sinkErrors atomic.Uint64
}

// New creates an Aggregator. Nothing is written until a consumer runs
// [Aggregator.Drain] or [Aggregator.Close] is called.
func New(opts ...Option) *Aggregator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	a := &Aggregator{
		clock:         cfg.clock,
		sink:          cfg.sink,
		log:           cfg.logger,
		granularity:   cfg.granularity,
		flushInterval: cfg.flushInterval,
		ch:            chanx.NewClosable[envelope](cfg.queueSize),
		levels:        make(map[string]Level),
		minLevel:      cfg.minLevel,
		interval:      cfg.interval,
		sites:         keyhash.NewMap[*siteEntry](0),
		buckets:       keyhash.NewMap[*bucket](0),
		stopped:       chanx.NewEvent(),
	}
	if cfg.globalLimit > 0 {
		burst := cfg.globalBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(cfg.globalLimit, burst)
	}
	a.gen.Store(1)
	return a
}

// SetRatePolicy sets the minimum interval between records from sites
// matching pattern. A zero interval disables limiting for them. Setting
// the same pattern again replaces its interval.
func (a *Aggregator) SetRatePolicy(pattern string, interval time.Duration) error {
	p, err := newPolicy(pattern, interval)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	replaced := false
	for i := range a.policies {
		if a.policies[i].pattern == pattern {
			a.policies[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		a.policies = append(a.policies, p)
	}
	a.gen.Add(1)
	return nil
}

// SetDefaultInterval changes the interval for sites with no policy.
func (a *Aggregator) SetDefaultInterval(d time.Duration) {
	if d < 0 {
		return
	}
	a.mu.Lock()
	a.interval = d
	a.gen.Add(1)
	a.mu.Unlock()
}

// SetLevel sets the default minimum level.
func (a *Aggregator) SetLevel(l Level) {
	a.mu.Lock()
	a.minLevel = l
	a.gen.Add(1)
	a.mu.Unlock()
}

// SetSiteLevel sets the minimum level for prefix and every site below it.
func (a *Aggregator) SetSiteLevel(prefix string, l Level) {
	a.mu.Lock()
	if prefix == "" {
		a.minLevel = l
	} else {
		a.levels[prefix] = l
	}
	a.gen.Add(1)
	a.mu.Unlock()
}

// Enabled reports whether a record at level from site would pass the level
// filter.
func (a *Aggregator) Enabled(site string, level Level) bool {
	return level >= a.entry(site).minLevel
}

// entry returns the cached resolution for site, rebuilding it when the
// policy generation moved.
func (a *Aggregator) entry(site string) *siteEntry {
	gen := a.gen.Load()
	if e, ok := a.sites.Load(site); ok && e.gen == gen {
		return e
	}

	a.mu.RLock()
	gen = a.gen.Load()
	p, matched := bestPolicy(a.policies, site)
	interval := a.interval
	if matched {
		interval = p.interval
	}
	minLevel := levelFor(a.levels, site, a.minLevel)
	a.mu.RUnlock()

	key := site
	if matched && a.granularity == PerPattern {
		// NUL cannot appear in a path.Match literal so this never collides
		// with a site name.
		key = "\x00" + p.pattern
	}
	label := key
	if matched && a.granularity == PerPattern {
		label = p.pattern
	}

	b, _ := a.buckets.LoadOrCreate(key, func() *bucket {
		return &bucket{label: label}
	})
	b.interval.Store(int64(interval))

	e := &siteEntry{gen: gen, bucket: b, minLevel: minLevel}
	a.sites.Store(site, e)
	return e
}

// Log builds a record stamped with the aggregator's clock and the
// correlation ID carried by ctx, then emits it.
func (a *Aggregator) Log(ctx context.Context, level Level, site, msg string, fields map[string]any) {
	if a.closed.Load() {
		return
	}
	if !a.Enabled(site, level) {
		a.filtered.Add(1)
		return
	}
	rec := NewRecord(a.clock.Now(), level, site, msg, fields)
	if id, ok := ident.CorrelationFrom(ctx); ok {
		rec.CorrelationID = id
	}
	a.Emit(rec)
}

// Emit offers rec for delivery. It never blocks and never fails: a record
// that is rate limited, denied by the global budget or finds the queue
// full is counted against its site and reported in a later summary.
// After Close, Emit is a no-op.
func (a *Aggregator) Emit(rec Record) {
	a.emitting.Add(1)
	defer a.emitting.Add(-1)
	if a.closed.Load() {
		a.logClosed(rec.Site)
		return
	}

	e := a.entry(rec.Site)
	if rec.Level < e.minLevel {
		a.filtered.Add(1)
		return
	}
	a.emitted.Add(1)

	now := a.clock.Now()
	nanos := now.UnixNano()
	if nanos == 0 {
		nanos = 1
	}

	b := e.bucket
	if !b.admit(nanos) || (a.limiter != nil && !a.limiter.AllowN(now, 1)) {
		b.suppressed.Add(1)
		a.suppressed.Add(1)
		return
	}

	pending := b.suppressed.Swap(0)
	err := a.ch.TrySend(envelope{rec: rec, bucket: b, suppressed: pending})
	switch {
	case err == nil:
	case errors.Is(err, chanx.ErrBuffFull):
		b.suppressed.Add(pending + 1)
		a.dropped.Add(1)
	default:
		// Lost a race with Close; the final sweep still reports it.
		b.suppressed.Add(pending + 1)
		a.dropped.Add(1)
		a.logClosed(rec.Site)
	}
}

func (a *Aggregator) logClosed(site string) {
	if a.closedLogged.CompareAndSwap(false, true) {
		a.log.Warn("log aggregator closed, dropping records",
			"code", rterrors.ErrCodeChannelClosed,
			"site", site)
	}
}

// Drain runs the consumer until the aggregator is closed or ctx is done.
// Only one Drain may run at a time; a concurrent call returns
// [ErrConsumerActive]. After the aggregator has been closed and flushed
// Drain returns nil immediately.
func (a *Aggregator) Drain(ctx context.Context) error {
	if a.stopped.IsSet() {
		return nil
	}
	if !a.consuming.CompareAndSwap(false, true) {
		return ErrConsumerActive
	}

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	in := a.ch.Chan()
	for {
		select {
		case env, ok := <-in:
			if !ok {
				a.finish()
				return nil
			}
			a.deliver(env)

		case <-ticker.C:
			a.Sweep()

		case <-ctx.Done():
			a.consuming.Store(false)
			// Close may have run between our last receive and here and
			// found a consumer active; take the final flush back.
			if a.closed.Load() && a.consuming.CompareAndSwap(false, true) {
				a.drainClosed()
			}
			return ctx.Err()
		}
	}
}

// Close stops accepting records, lets the consumer write everything
// queued, reports every outstanding suppressed count exactly once and
// flushes the sink. If no consumer is running Close drains inline. It
// returns when the flush is complete or ctx is done.
func (a *Aggregator) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.ch.Close()
	})
	if a.consuming.CompareAndSwap(false, true) {
		a.drainClosed()
	}
	return a.stopped.Wait(ctx)
}

// Done is closed once Close has finished flushing.
func (a *Aggregator) Done() <-chan struct{} {
	return a.stopped.Done()
}

func (a *Aggregator) drainClosed() {
	for env := range a.ch.Chan() {
		a.deliver(env)
	}
	a.finish()
}

func (a *Aggregator) finish() {
	// Emit never blocks, so emitters that saw closed == false leave soon.
	for a.emitting.Load() > 0 {
		runtime.Gosched()
	}
	a.sweep(true)
	if err := a.flushSink(); err != nil {
		a.sinkFailed(err)
	}
	a.stopped.Set()
}

// Sweep writes a summary for every site that has pending suppressed
// records and has not emitted for at least its interval. The consumer
// calls it on every flush tick; it must not run concurrently with Drain.
func (a *Aggregator) Sweep() {
	a.sweep(false)
}

func (a *Aggregator) sweep(final bool) {
	now := a.clock.Now()
	nanos := now.UnixNano()

	a.buckets.Range(func(_ string, b *bucket) bool {
		if b.suppressed.Load() == 0 {
			return true
		}
		if !final && nanos-b.lastEmit.Load() < b.interval.Load() {
			return true
		}
		if n := b.suppressed.Swap(0); n > 0 {
			a.writeSummary(b.label, n, now)
		}
		return true
	})
}

func (a *Aggregator) deliver(env envelope) {
	if env.suppressed > 0 {
		a.writeSummary(env.bucket.label, env.suppressed, env.rec.Time)
	}
	a.write(env.rec)
	a.delivered.Add(1)
}

func (a *Aggregator) writeSummary(label string, n int64, at time.Time) {
	rec := NewRecord(at, LevelWarn, label, fmt.Sprintf(summaryMessage, n), map[string]any{
		"suppressed": n,
	})
	a.write(rec)
	a.summaries.Add(1)
	a.reported.Add(uint64(n))
}

func (a *Aggregator) write(rec Record) {
	defer func() {
		if r := recover(); r != nil {
			a.sinkFailed(fmt.Errorf("log sink panic: %v", r))
		}
	}()
	if err := a.sink.Write(rec); err != nil {
		a.sinkFailed(err)
	}
}

func (a *Aggregator) flushSink() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("log sink panic: %v", r)
		}
	}()
	return a.sink.Flush()
}

func (a *Aggregator) sinkFailed(err error) {
	a.sinkErrors.Add(1)
	if a.sinkErrLogged.CompareAndSwap(false, true) {
		a.log.Error("log sink failed; further failures are counted only", "error", err)
	}
}

// Stats returns a snapshot of the counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Emitted:    a.emitted.Load(),
		Filtered:   a.filtered.Load(),
		Delivered:  a.delivered.Load(),
		Suppressed: a.suppressed.Load(),
		Dropped:    a.dropped.Load(),
		Summaries:  a.summaries.Load(),
		Reported:   a.reported.Load(),
		SinkErrors: a.sinkErrors.Load(),
		Queued:     a.ch.Len(),
	}
}

// Now returns the aggregator's current time.
func (a *Aggregator) Now() time.Time {
	return a.clock.Now()
}
