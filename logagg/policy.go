package logagg

import (
	"path"
	"strings"
	"time"

	rterrors "github.com/baxromumarov/taskrt/errors"
)

// Granularity selects how sites map onto rate-limit buckets.
type Granularity int

const (
	// PerSite gives every distinct site its own bucket.
	PerSite Granularity = iota
	// PerPattern makes all sites matching one policy pattern share a bucket.
	// Sites with no matching policy still get their own.
	PerPattern
)

func (g Granularity) String() string {
	if g == PerPattern {
		return "pattern"
	}
	return "site"
}

// ParseGranularity accepts "site" and "pattern".
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "site":
		return PerSite, nil
	case "pattern":
		return PerPattern, nil
	}
	return PerSite, rterrors.NewWithContext(rterrors.ErrCodeParse, "invalid rate-limit granularity",
		map[string]any{"input": s})
}

type policy struct {
	pattern  string
	literal  int // length of the literal prefix before the first meta character
	exact    bool
	interval time.Duration
}

func newPolicy(pattern string, interval time.Duration) (policy, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return policy{}, rterrors.WrapWithContext(rterrors.ErrCodeParse, "invalid site pattern", err,
			map[string]any{"pattern": pattern})
	}
	if interval < 0 {
		return policy{}, rterrors.NewWithContext(rterrors.ErrCodeInvalidConfig, "negative rate interval",
			map[string]any{"pattern": pattern, "interval": interval.String()})
	}
	lit := strings.IndexAny(pattern, `*?[\`)
	exact := lit < 0
	if exact {
		lit = len(pattern)
	}
	return policy{pattern: pattern, literal: lit, exact: exact, interval: interval}, nil
}

func (p policy) matches(site string) bool {
	if p.exact {
		return p.pattern == site
	}
	ok, _ := path.Match(p.pattern, site)
	return ok
}

// beats reports whether p is more specific than q.
func (p policy) beats(q policy) bool {
	if p.exact != q.exact {
		return p.exact
	}
	return p.literal > q.literal
}

// bestPolicy returns the most specific policy matching site.
func bestPolicy(policies []policy, site string) (policy, bool) {
	var best policy
	found := false
	for _, p := range policies {
		if !p.matches(site) {
			continue
		}
		if !found || p.beats(best) {
			best, found = p, true
		}
	}
	return best, found
}

// levelFor walks site and its ancestors, splitting on ".", "/" and "::",
// and returns the first configured level.
func levelFor(levels map[string]Level, site string, def Level) Level {
	for candidate := site; ; {
		if l, ok := levels[candidate]; ok {
			return l
		}
		cut := lastSeparator(candidate)
		if cut <= 0 {
			return def
		}
		candidate = candidate[:cut]
	}
}

func lastSeparator(s string) int {
	i := strings.LastIndexAny(s, "./")
	if j := strings.LastIndex(s, "::"); j > i {
		i = j
	}
	return i
}
