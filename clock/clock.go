// Package clock supplies the time source used across the runtime.
//
// Every timestamp and every rate-limit comparison reads from one injected
// [Clock], so tests substitute a [Manual] clock and get deterministic
// results. [ParseDuration] turns human text such as "30s" or
// "2 days 3 hours" into a non-negative time.Duration.
package clock

import (
	"sync"
	"time"

	rterrors "github.com/baxromumarov/taskrt/errors"
)

// Clock is a source of timezone-aware instants.
type Clock interface {
	Now() time.Time
}

type system struct {
	loc *time.Location
}

// System returns a Clock reading the wall clock in loc. A nil loc means
// the process-local zone.
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return system{loc: loc}
}

func (s system) Now() time.Time {
	return time.Now().In(s.loc)
}

// Manual is a Clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Since returns the time elapsed on c since t.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// LoadZone resolves a zone name. The empty string and "Local" mean the
// process-local zone.
func LoadZone(name string) (*time.Location, error) {
	switch name {
	case "", "Local", "local":
		return time.Local, nil
	case "UTC", "utc":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, rterrors.WrapWithContext(rterrors.ErrCodeParse, "unknown time zone", err,
			map[string]any{"input": name})
	}
	return loc, nil
}

// Local returns the system clock in the process-local zone, which the Go
// runtime initialises from the TZ environment variable.
func Local() Clock {
	return System(time.Local)
}
