// Package alert collapses repeated operational alerts so a sustained failure
// produces one alert per cooldown window plus one summary per key change.
package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"feedwatch/internal/eventbus"
	logx "feedwatch/pkg/logx"
)

const (
	DefaultCooldown  = 120 * time.Second
	DefaultMaxLength = 1000

	TruncationMarker = " …[truncated]"

	// Event types published on the bus.
	EventRaised     = "alert.raised"
	EventSuppressed = "alert.suppressed"
	EventSummary    = "alert.summary"
	EventFailed     = "alert.failed"
)

// Raiser delivers one alert to the owner channel.
type Raiser interface {
	Raise(ctx context.Context, title, body string) error
}

// RaiserFunc adapts a function to Raiser.
type RaiserFunc func(ctx context.Context, title, body string) error

func (f RaiserFunc) Raise(ctx context.Context, title, body string) error { return f(ctx, title, body) }

type Config struct {
	Cooldown  time.Duration
	MaxLength int
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	return c
}

// Stats counts limiter decisions since start.
type Stats struct {
	Raised     uint64
	Suppressed uint64
	Summaries  uint64
	Failures   uint64
	Pending    int
	LastTitle  string
	LastAt     time.Time
}

type outgoing struct {
	title, body string
	summary     bool
}

// Limiter is the alert state machine. It is safe for concurrent use; sends
// happen outside the lock, in decision order.
type Limiter struct {
	raiser Raiser
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	mu        sync.Mutex
	cfg       Config
	lastKey   string
	lastTitle string
	lastAt    time.Time
	repeats   int
	stats     Stats

	// sendMu keeps summary-then-alert ordering across concurrent callers.
	sendMu sync.Mutex
}

// New creates a limiter. bus may be nil.
func New(cfg Config, raiser Raiser, log logx.Logger, bus eventbus.Bus) *Limiter {
	return &Limiter{
		raiser: raiser,
		log:    log.With(logx.String("comp", "alert")),
		bus:    bus,
		now:    time.Now,
		cfg:    cfg.withDefaults(),
	}
}

// Apply swaps cooldown and max length at runtime. Pending repeat state is kept.
func (l *Limiter) Apply(cfg Config) {
	l.mu.Lock()
	l.cfg = cfg.withDefaults()
	l.mu.Unlock()
}

// MaybeRaise raises, suppresses, or summarizes according to the key history.
func (l *Limiter) MaybeRaise(ctx context.Context, title, message string) {
	title = strings.TrimSpace(title)

	l.mu.Lock()
	body := truncate(strings.TrimSpace(message), l.cfg.MaxLength)
	key := title + "\x00" + body
	now := l.now()

	if l.lastKey != "" && key == l.lastKey && now.Sub(l.lastAt) < l.cfg.Cooldown {
		l.repeats++
		l.stats.Suppressed++
		l.mu.Unlock()
		eventbus.Emit(l.bus, EventSuppressed, title)
		return
	}

	out := make([]outgoing, 0, 2)
	if s, ok := l.takeSummaryLocked(); ok {
		out = append(out, s)
	}
	out = append(out, outgoing{title: title, body: body})
	l.lastKey = key
	l.lastTitle = title
	l.lastAt = now
	l.repeats = 0
	l.stats.Raised++
	l.stats.LastTitle = title
	l.stats.LastAt = now
	l.sendMu.Lock()
	l.mu.Unlock()

	defer l.sendMu.Unlock()
	l.send(ctx, out)
}

// Flush emits the summary for pending repeats, if any. Used at shutdown.
func (l *Limiter) Flush(ctx context.Context) {
	l.mu.Lock()
	s, ok := l.takeSummaryLocked()
	if !ok {
		l.mu.Unlock()
		return
	}
	l.sendMu.Lock()
	l.mu.Unlock()

	defer l.sendMu.Unlock()
	l.send(ctx, []outgoing{s})
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Pending = l.repeats
	return s
}

func (l *Limiter) takeSummaryLocked() (outgoing, bool) {
	if l.repeats == 0 {
		return outgoing{}, false
	}
	n := l.repeats
	l.repeats = 0
	l.stats.Summaries++
	return outgoing{
		title:   l.lastTitle,
		body:    fmt.Sprintf("previous alert repeated %d times", n),
		summary: true,
	}, true
}

// send delivers in order. A failed delivery is logged only; it never feeds
// back into the limiter.
func (l *Limiter) send(ctx context.Context, out []outgoing) {
	for _, o := range out {
		typ := EventRaised
		if o.summary {
			typ = EventSummary
		}
		eventbus.Emit(l.bus, typ, o.title)
		if l.raiser == nil {
			l.log.Warn("alert (no owner channel)", logx.String("title", o.title), logx.String("body", o.body), logx.Local())
			continue
		}
		if err := l.raiser.Raise(ctx, o.title, o.body); err != nil {
			l.mu.Lock()
			l.stats.Failures++
			l.mu.Unlock()
			eventbus.Emit(l.bus, EventFailed, o.title)
			l.log.Warn("alert delivery failed",
				logx.String("title", o.title),
				logx.Bool("summary", o.summary),
				logx.ErrText(err, 300),
				logx.Local(),
			)
		}
	}
}

// truncate cuts s to at most maxRunes runes including the marker.
func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	keep := maxRunes - utf8.RuneCountInString(TruncationMarker)
	if keep < 1 {
		keep = 1
	}
	r := []rune(s)
	return string(r[:keep]) + TruncationMarker
}
