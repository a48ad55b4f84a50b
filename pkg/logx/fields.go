package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event.
//
// Fields are applied in-order; if the same key is set twice, the later one wins.
// The console writer renders them as key=value pairs, JSON sinks keep them structured.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Float64(k string, v float64) Field {
	return func(e *zerolog.Event) { e.Float64(k, v) }
}
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Strings(k string, v []string) Field {
	return func(e *zerolog.Event) { e.Strs(k, v) }
}
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// localKey marks lines the owner mirror skips.
const localKey = "local"

// Local keeps a line out of the owner mirror. Failures that reach the owner
// through the alert limiter are logged with it.
func Local() Field { return func(e *zerolog.Event) { e.Bool(localKey, true) } }

// ErrText logs err as a string truncated to maxN bytes. Upstream APIs tend to
// return whole response bodies in their errors.
func ErrText(err error, maxN int) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Str(zerolog.ErrorFieldName, Truncate(err.Error(), maxN))
		}
	}
}

// Truncate shortens s to at most maxN bytes, marking the cut with "...".
func Truncate(s string, maxN int) string {
	s = strings.TrimSpace(s)
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
