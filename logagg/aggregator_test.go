package logagg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/taskrt/clock"
	rterrors "github.com/baxromumarov/taskrt/errors"
)

type memSink struct {
	mu      sync.Mutex
	records []Record
	flushes int
}

func (m *memSink) Write(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memSink) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *memSink) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	for i, r := range m.records {
		out[i] = r.Site + ": " + r.Message
	}
	return out
}

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestAgg(t *testing.T, opts ...Option) (*Aggregator, *memSink, *clock.Manual) {
	t.Helper()
	sink := &memSink{}
	clk := clock.NewManual(epoch)
	base := []Option{
		WithSink(sink),
		WithClock(clk),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	}
	return New(append(base, opts...)...), sink, clk
}

func TestExactlyOnePerIntervalWithExactCounts(t *testing.T) {
	agg, sink, clk := newTestAgg(t)
	ctx := context.Background()

	for i := range 10 {
		agg.Log(ctx, LevelInfo, "worker.loop", fmt.Sprintf("tick %d", i), nil)
	}
	clk.Advance(time.Second)
	for i := range 5 {
		agg.Log(ctx, LevelInfo, "worker.loop", fmt.Sprintf("tock %d", i), nil)
	}
	require.NoError(t, agg.Close(ctx))

	assert.Equal(t, []string{
		"worker.loop: tick 0",
		"worker.loop: 9 records suppressed",
		"worker.loop: tock 0",
		"worker.loop: 4 records suppressed",
	}, sink.messages())

	st := agg.Stats()
	assert.Equal(t, uint64(15), st.Emitted)
	assert.Equal(t, uint64(2), st.Delivered)
	assert.Equal(t, uint64(13), st.Suppressed)
	assert.Equal(t, uint64(13), st.Reported)
	assert.Equal(t, uint64(2), st.Summaries)
	assert.Equal(t, 1, sink.flushes)

	summary := sink.records[1]
	assert.Equal(t, LevelWarn, summary.Level)
	assert.Equal(t, int64(9), summary.Fields["suppressed"])
}

func TestSweepWaitsForQuietInterval(t *testing.T) {
	agg, sink, clk := newTestAgg(t)
	ctx := context.Background()

	for range 3 {
		agg.Log(ctx, LevelInfo, "cache", "miss", nil)
	}

	clk.Advance(500 * time.Millisecond)
	agg.Sweep()
	assert.Empty(t, sink.messages())

	clk.Advance(500 * time.Millisecond)
	agg.Sweep()
	assert.Equal(t, []string{"cache: 2 records suppressed"}, sink.messages())

	require.NoError(t, agg.Close(ctx))
	assert.Equal(t, []string{"cache: 2 records suppressed", "cache: miss"}, sink.messages())
	assert.Equal(t, uint64(1), agg.Stats().Summaries)
}

func TestRatePolicies(t *testing.T) {
	agg, sink, _ := newTestAgg(t)
	ctx := context.Background()

	require.NoError(t, agg.SetRatePolicy("db.*", time.Hour))
	require.NoError(t, agg.SetRatePolicy("db.pool.acquire", 0))

	for range 3 {
		agg.Log(ctx, LevelInfo, "db.pool.acquire", "acquired", nil)
		agg.Log(ctx, LevelInfo, "db.query", "slow", nil)
	}
	require.NoError(t, agg.Close(ctx))

	got := sink.messages()
	assert.Equal(t, 3, countPrefix(got, "db.pool.acquire: acquired"))
	assert.Equal(t, 1, countPrefix(got, "db.query: slow"))
	assert.Contains(t, got, "db.query: 2 records suppressed")
}

func TestPolicySpecificity(t *testing.T) {
	var ps []policy
	for _, spec := range []struct {
		pattern  string
		interval time.Duration
	}{
		{"*", time.Second},
		{"net.*", 2 * time.Second},
		{"net.http.*", 3 * time.Second},
		{"net.http.client", 4 * time.Second},
	} {
		p, err := newPolicy(spec.pattern, spec.interval)
		require.NoError(t, err)
		ps = append(ps, p)
	}

	cases := map[string]time.Duration{
		"net.http.client": 4 * time.Second,
		"net.http.server": 3 * time.Second,
		"net.dns":         2 * time.Second,
		"disk":            time.Second,
	}
	for site, want := range cases {
		p, ok := bestPolicy(ps, site)
		require.True(t, ok, site)
		assert.Equal(t, want, p.interval, site)
	}
}

func TestInvalidPolicies(t *testing.T) {
	agg, _, _ := newTestAgg(t)

	err := agg.SetRatePolicy("db.[", time.Second)
	require.Error(t, err)
	assert.True(t, rterrors.IsCode(err, rterrors.ErrCodeParse))

	err = agg.SetRatePolicy("db.*", -time.Second)
	require.Error(t, err)
	assert.True(t, rterrors.IsCode(err, rterrors.ErrCodeInvalidConfig))
}

func TestPerPatternGranularityShareBucket(t *testing.T) {
	agg, sink, _ := newTestAgg(t, WithGranularity(PerPattern))
	ctx := context.Background()
	require.NoError(t, agg.SetRatePolicy("db.*", time.Minute))

	agg.Log(ctx, LevelInfo, "db.read", "r", nil)
	agg.Log(ctx, LevelInfo, "db.write", "w", nil)
	agg.Log(ctx, LevelInfo, "other", "o", nil)
	require.NoError(t, agg.Close(ctx))

	assert.ElementsMatch(t, []string{
		"db.read: r",
		"other: o",
		"db.*: 1 records suppressed",
	}, sink.messages())
}

func TestHierarchicalLevels(t *testing.T) {
	agg, _, _ := newTestAgg(t)
	agg.SetLevel(LevelWarn)
	agg.SetSiteLevel("net", LevelDebug)
	agg.SetSiteLevel("net.http.noisy", LevelError)

	assert.True(t, agg.Enabled("net", LevelDebug))
	assert.True(t, agg.Enabled("net.http", LevelDebug))
	assert.True(t, agg.Enabled("net/tcp", LevelDebug))
	assert.True(t, agg.Enabled("net::udp", LevelDebug))
	assert.False(t, agg.Enabled("net.http.noisy.part", LevelWarn))
	assert.False(t, agg.Enabled("network", LevelDebug))
	assert.False(t, agg.Enabled("disk", LevelInfo))
	assert.True(t, agg.Enabled("disk", LevelWarn))

	agg.Log(context.Background(), LevelDebug, "disk", "ignored", nil)
	assert.Equal(t, uint64(1), agg.Stats().Filtered)
	assert.Equal(t, uint64(0), agg.Stats().Emitted)
}

func TestQueueFullCountsAsSuppressed(t *testing.T) {
	agg, sink, _ := newTestAgg(t, WithQueueSize(1), WithDefaultInterval(0))
	ctx := context.Background()

	for i := range 3 {
		agg.Log(ctx, LevelInfo, "burst", fmt.Sprint(i), nil)
	}
	st := agg.Stats()
	assert.Equal(t, uint64(2), st.Dropped)
	assert.Equal(t, 1, st.Queued)

	require.NoError(t, agg.Close(ctx))
	assert.Equal(t, []string{"burst: 0", "burst: 2 records suppressed"}, sink.messages())
}

func TestGlobalRateBudget(t *testing.T) {
	agg, sink, clk := newTestAgg(t, WithDefaultInterval(0), WithGlobalRate(1, 1))
	ctx := context.Background()

	agg.Log(ctx, LevelInfo, "a", "1", nil)
	agg.Log(ctx, LevelInfo, "b", "2", nil)
	clk.Advance(time.Second)
	agg.Log(ctx, LevelInfo, "b", "3", nil)
	require.NoError(t, agg.Close(ctx))

	assert.Equal(t, []string{"a: 1", "b: 1 records suppressed", "b: 3"}, sink.messages())
	assert.Equal(t, uint64(1), agg.Stats().Suppressed)
}

func TestEmitAfterCloseIsNoOpAndLoggedOnce(t *testing.T) {
	var diag bytes.Buffer
	sink := &memSink{}
	agg := New(WithSink(sink), WithLogger(slog.New(slog.NewTextHandler(&diag, nil))))
	require.NoError(t, agg.Close(context.Background()))

	for range 3 {
		agg.Emit(NewRecord(time.Now(), LevelError, "late", "x", nil))
	}
	assert.Empty(t, sink.messages())
	assert.Equal(t, 1, strings.Count(diag.String(), "log aggregator closed"))
	assert.Contains(t, diag.String(), string(rterrors.ErrCodeChannelClosed))

	select {
	case <-agg.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

type failingSink struct {
	calls int
	panic bool
}

func (f *failingSink) Write(Record) error {
	f.calls++
	if f.panic {
		panic("sink exploded")
	}
	return errors.New("disk full")
}

func (f *failingSink) Flush() error { return nil }

func TestSinkFailuresAreContained(t *testing.T) {
	for _, panics := range []bool{false, true} {
		t.Run(fmt.Sprintf("panic=%v", panics), func(t *testing.T) {
			var diag bytes.Buffer
			sink := &failingSink{panic: panics}
			agg := New(
				WithSink(sink),
				WithDefaultInterval(0),
				WithLogger(slog.New(slog.NewTextHandler(&diag, nil))),
			)
			for range 3 {
				agg.Log(context.Background(), LevelInfo, "s", "m", nil)
			}
			require.NoError(t, agg.Close(context.Background()))

			assert.Equal(t, 3, sink.calls)
			assert.Equal(t, uint64(3), agg.Stats().SinkErrors)
			assert.Equal(t, 1, strings.Count(diag.String(), "log sink failed"))
		})
	}
}

func TestSingleConsumer(t *testing.T) {
	agg, sink, _ := newTestAgg(t, WithDefaultInterval(0), WithFlushInterval(5*time.Millisecond))
	ctx := context.Background()

	drained := make(chan error, 1)
	go func() { drained <- agg.Drain(ctx) }()
	require.Eventually(t, agg.consuming.Load, time.Second, time.Millisecond)

	assert.ErrorIs(t, agg.Drain(ctx), ErrConsumerActive)

	agg.Log(ctx, LevelInfo, "s", "hello", nil)
	require.Eventually(t, func() bool { return len(sink.messages()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, agg.Close(ctx))
	require.NoError(t, <-drained)
	assert.NoError(t, agg.Drain(ctx), "drain after close is a no-op")
}

func TestDrainStopsOnContext(t *testing.T) {
	agg, sink, _ := newTestAgg(t, WithDefaultInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Drain(ctx) }()
	require.Eventually(t, agg.consuming.Load, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	agg.Log(context.Background(), LevelInfo, "s", "after", nil)
	require.NoError(t, agg.Close(context.Background()))
	assert.Equal(t, []string{"s: after"}, sink.messages())
}

func TestConcurrentEmittersConserveCounts(t *testing.T) {
	agg, _, _ := newTestAgg(t, WithQueueSize(1<<16))
	ctx := context.Background()

	drained := make(chan error, 1)
	go func() { drained <- agg.Drain(ctx) }()

	sites := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				agg.Log(ctx, LevelInfo, sites[(g+i)%len(sites)], "m", nil)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, agg.Close(ctx))
	require.NoError(t, <-drained)

	st := agg.Stats()
	assert.Equal(t, uint64(8000), st.Emitted)
	assert.Equal(t, uint64(len(sites)), st.Delivered)
	assert.Equal(t, st.Emitted, st.Delivered+st.Reported)
	assert.Equal(t, st.Suppressed, st.Reported)
}

func TestEmittersRacingCloseConserveCounts(t *testing.T) {
	for range 20 {
		agg, _, _ := newTestAgg(t, WithQueueSize(8), WithDefaultInterval(0))
		ctx := context.Background()

		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := range 500 {
					agg.Log(ctx, LevelInfo, fmt.Sprintf("s%d", (g+i)%3), "m", nil)
				}
			}()
		}
		close(start)
		require.NoError(t, agg.Close(ctx))
		wg.Wait()

		st := agg.Stats()
		assert.Equal(t, st.Emitted, st.Delivered+st.Reported,
			"emitted=%d delivered=%d reported=%d", st.Emitted, st.Delivered, st.Reported)
	}
}

func countPrefix(msgs []string, prefix string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := clock.LoadZone(name)
	if err != nil {
		t.Skipf("zone %s unavailable: %v", name, err)
	}
	return loc
}
