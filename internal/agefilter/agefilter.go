// Package agefilter decides whether a discovered item is recent enough to
// report, from the free-text relative age the scraper extracted.
package agefilter

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrUnparseable = errors.New("agefilter: unparseable age text")

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "wk": 7 * 24 * time.Hour, "wks": 7 * 24 * time.Hour,
	"week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	"mo": 30 * 24 * time.Hour, "month": 30 * 24 * time.Hour, "months": 30 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour, "yr": 365 * 24 * time.Hour, "yrs": 365 * 24 * time.Hour,
	"year": 365 * 24 * time.Hour, "years": 365 * 24 * time.Hour,
}

var (
	// "5 minutes ago", "an hour ago", "5min ago"
	reLong = regexp.MustCompile(`^(-?\d+|a|an|one)\s*([a-z]+)\s+ago$`)
	// "5m", "2h", "3 d", "1w", "2mo"
	reCompact = regexp.MustCompile(`^(-?\d+)\s*(s|m|h|d|w|mo|y)$`)
)

// Parse converts raw relative-age text into a duration before now.
//
// Accepted forms (case-insensitive, surrounding whitespace and a trailing
// period ignored): "just now", "now", "yesterday", "N <unit> ago",
// "a|an <unit> ago", and compact "Ns", "Nm", "Nh", "Nd", "Nw".
func Parse(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, ".")
	s = strings.Join(strings.Fields(s), " ")

	switch s {
	case "":
		return 0, ErrUnparseable
	case "now", "just now", "moments ago", "a moment ago":
		return 0, nil
	case "yesterday":
		return 24 * time.Hour, nil
	}

	var numStr, unitStr string
	if m := reLong.FindStringSubmatch(s); m != nil {
		numStr, unitStr = m[1], m[2]
	} else if m := reCompact.FindStringSubmatch(s); m != nil {
		numStr, unitStr = m[1], m[2]
	} else {
		return 0, ErrUnparseable
	}

	unit, ok := units[unitStr]
	if !ok {
		return 0, ErrUnparseable
	}

	var n float64
	switch numStr {
	case "a", "an", "one":
		n = 1
	default:
		v, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, ErrUnparseable
		}
		n = v
	}

	age := n * float64(unit)
	// Ages a Duration cannot hold (and negative ones) clamp to "now".
	if math.IsNaN(age) || math.IsInf(age, 0) || age < 0 || age >= math.MaxInt64 {
		return 0, nil
	}
	return time.Duration(age), nil
}

// Filter applies the freshness rule. The zero value drops unparseable text and
// uses the wall clock.
type Filter struct {
	// KeepUnparseable reports items whose age cannot be parsed instead of
	// dropping them.
	KeepUnparseable bool
	Now             func() time.Time
}

func (f Filter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// IsFresh reports whether the item is at most maxAgeMinutes old, boundary
// inclusive. maxAgeMinutes <= 0 disables the window; unparseable text is
// still subject to KeepUnparseable.
func (f Filter) IsFresh(raw string, maxAgeMinutes int) bool {
	ok, _ := f.Check(raw, maxAgeMinutes)
	return ok
}

// Check is IsFresh with the parse error exposed for accounting.
func (f Filter) Check(raw string, maxAgeMinutes int) (bool, error) {
	age, err := Parse(raw)
	if err != nil {
		return f.KeepUnparseable, err
	}
	if maxAgeMinutes <= 0 {
		return true, nil
	}
	now := f.now()
	at := now.Add(-age)
	return now.Sub(at) <= time.Duration(maxAgeMinutes)*time.Minute, nil
}
