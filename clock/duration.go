package clock

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	rterrors "github.com/baxromumarov/taskrt/errors"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var units = map[string]time.Duration{
	"ns": time.Nanosecond, "nsec": time.Nanosecond, "nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
	"us": time.Microsecond, "µs": time.Microsecond, "usec": time.Microsecond, "microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ms": time.Millisecond, "msec": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": day, "day": day, "days": day,
	"w": week, "wk": week, "wks": week, "week": week, "weeks": week,
}

// ParseDuration parses human duration text.
//
// The input is one or more terms of a number followed by a unit, with
// optional whitespace between and around them: "30s", "1h30m",
// "2 days 3 hours", "1.5h". A lone number without a unit is taken as
// seconds. Negative values, unknown units and non-numeric input fail with
// a PARSE error.
func ParseDuration(text string) (time.Duration, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, parseError(text, "empty duration")
	}

	var total float64
	terms := 0
	i := 0
	for i < len(s) {
		i = skipSpace(s, i)
		if i >= len(s) {
			break
		}

		switch s[i] {
		case '-':
			return 0, parseError(text, "negative duration")
		case '+':
			i++
		}

		start := i
		dots := 0
		for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
			if s[i] == '.' {
				dots++
			}
			i++
		}
		if start == i || dots > 1 || s[start:i] == "." {
			return 0, parseError(text, fmt.Sprintf("expected a number at offset %d", start))
		}
		num, err := strconv.ParseFloat(s[start:i], 64)
		if err != nil {
			return 0, parseError(text, "invalid number "+strconv.Quote(s[start:i]))
		}

		i = skipSpace(s, i)
		ustart := i
		for i < len(s) {
			r, size := utf8.DecodeRuneInString(s[i:])
			if !unicode.IsLetter(r) {
				break
			}
			i += size
		}
		unit := strings.ToLower(s[ustart:i])
		terms++

		var mult time.Duration
		if unit == "" {
			if terms > 1 || skipSpace(s, i) < len(s) {
				return 0, parseError(text, fmt.Sprintf("missing unit at offset %d", ustart))
			}
			mult = time.Second
		} else {
			var ok bool
			if mult, ok = units[unit]; !ok {
				return 0, parseError(text, "unknown unit "+strconv.Quote(unit))
			}
		}

		total += num * float64(mult)
		// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
		if total >= float64(math.MaxInt64) {
			return 0, parseError(text, "duration overflows")
		}
	}

	return time.Duration(total), nil
}

// MustParseDuration is like ParseDuration but panics on error. Intended for
// package-level defaults.
func MustParseDuration(text string) time.Duration {
	d, err := ParseDuration(text)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatDuration renders d in the largest unit that keeps it readable,
// e.g. "250 ms", "42.5 secs", "3 mins", "1.5 days".
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 2:
		return trim(float64(d)/float64(time.Millisecond), 3) + " ms"
	case secs < 120:
		return trim(secs, 3) + " secs"
	case secs < 7_200:
		return trim(d.Minutes(), 2) + " mins"
	case secs < 172_800:
		return trim(d.Hours(), 2) + " hours"
	case secs < 604_800:
		return trim(secs/86_400, 2) + " days"
	case secs < 31_557_600:
		return trim(secs/604_800, 1) + " weeks"
	default:
		return trim(secs/31_557_600, 1) + " years"
	}
}

func trim(v float64, places int) string {
	p := math.Pow10(places)
	return strconv.FormatFloat(math.Round(v*p)/p, 'f', -1, 64)
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == ',') {
		i++
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func parseError(input, reason string) error {
	return rterrors.NewWithContext(rterrors.ErrCodeParse, "invalid duration: "+reason,
		map[string]any{"input": input})
}
