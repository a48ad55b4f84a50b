package session

import (
	"time"

	logx "feedwatch/pkg/logx"
)

const (
	DefaultNightStart   = 22
	DefaultNightEnd     = 7
	DefaultCatchUp      = 8 * time.Hour
	DefaultLengthMin    = 40 * time.Minute
	DefaultLengthMax    = 90 * time.Minute
	DefaultWarmupMin    = 5 * time.Minute
	DefaultWarmupMax    = 15 * time.Minute
	DefaultWarmupFactor = 2.0
	DefaultCooldownMin  = 2 * time.Minute
	DefaultCooldownMax  = 5 * time.Minute
	DefaultPollInterval = 3 * time.Minute
	DefaultMaxSleepWait = 15 * time.Minute
)

// Range is an inclusive duration interval a random value is drawn from.
type Range struct {
	Min, Max time.Duration
}

type Config struct {
	// Location is the zone the night window is evaluated in. Nil means local.
	Location *time.Location

	NightEnabled bool
	NightStart   int // hour, inclusive
	NightEnd     int // hour, exclusive

	// CatchUp forces a wake after this long asleep.
	CatchUp time.Duration

	Length Range

	WarmupEnabled bool
	Warmup        Range
	// WarmupFactor multiplies the poll interval while warming up.
	WarmupFactor float64

	Cooldown Range

	PollInterval time.Duration

	// MaxSleepWait caps a single timer wait while asleep so clock changes
	// are noticed.
	MaxSleepWait time.Duration
}

// DefaultConfig returns the documented defaults with the night window on.
func DefaultConfig() Config {
	return Config{
		Location:      time.Local,
		NightEnabled:  true,
		NightStart:    DefaultNightStart,
		NightEnd:      DefaultNightEnd,
		CatchUp:       DefaultCatchUp,
		Length:        Range{DefaultLengthMin, DefaultLengthMax},
		WarmupEnabled: true,
		Warmup:        Range{DefaultWarmupMin, DefaultWarmupMax},
		WarmupFactor:  DefaultWarmupFactor,
		Cooldown:      Range{DefaultCooldownMin, DefaultCooldownMax},
		PollInterval:  DefaultPollInterval,
		MaxSleepWait:  DefaultMaxSleepWait,
	}
}

// sanitize replaces values the loop cannot run with. Each replacement is
// logged at error level; the scheduler never refuses to start.
func sanitize(cfg Config, log logx.Logger) Config {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.NightStart < 0 || cfg.NightStart > 23 || cfg.NightEnd < 0 || cfg.NightEnd > 23 {
		log.Error("invalid night window; night mode disabled",
			logx.Int("start_hour", cfg.NightStart), logx.Int("end_hour", cfg.NightEnd))
		cfg.NightEnabled = false
	}
	if cfg.CatchUp <= 0 {
		log.Error("invalid catch-up threshold; using default",
			logx.Duration("got", cfg.CatchUp), logx.Duration("default", DefaultCatchUp))
		cfg.CatchUp = DefaultCatchUp
	}
	if cfg.PollInterval <= 0 {
		log.Error("invalid poll interval; using default",
			logx.Duration("got", cfg.PollInterval), logx.Duration("default", DefaultPollInterval))
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WarmupFactor < 1 {
		log.Error("invalid warm-up interval factor; using default",
			logx.Float64("got", cfg.WarmupFactor), logx.Float64("default", DefaultWarmupFactor))
		cfg.WarmupFactor = DefaultWarmupFactor
	}
	if cfg.MaxSleepWait <= 0 {
		cfg.MaxSleepWait = DefaultMaxSleepWait
	}
	cfg.Length = sanitizeRange("session.length", cfg.Length, Range{DefaultLengthMin, DefaultLengthMax}, log)
	cfg.Warmup = sanitizeRange("session.warmup", cfg.Warmup, Range{DefaultWarmupMin, DefaultWarmupMax}, log)
	cfg.Cooldown = sanitizeRange("session.cooldown", cfg.Cooldown, Range{DefaultCooldownMin, DefaultCooldownMax}, log)
	return cfg
}

func sanitizeRange(name string, r, def Range, log logx.Logger) Range {
	if r.Min > 0 && r.Max > 0 && r.Min <= r.Max {
		return r
	}
	log.Error("invalid duration bounds; using defaults",
		logx.String("field", name),
		logx.Duration("min", r.Min), logx.Duration("max", r.Max),
		logx.Duration("default_min", def.Min), logx.Duration("default_max", def.Max),
	)
	return def
}

// inNight reports whether the local hour of t lies in [start, end). A window
// with start > end wraps midnight; start == end is empty.
func (c Config) inNight(t time.Time) bool {
	if !c.NightEnabled || c.NightStart == c.NightEnd {
		return false
	}
	h := t.In(c.Location).Hour()
	if c.NightStart < c.NightEnd {
		return h >= c.NightStart && h < c.NightEnd
	}
	return h >= c.NightStart || h < c.NightEnd
}

// nightEndAfter returns the next instant after t at which the local hour
// becomes NightEnd.
func (c Config) nightEndAfter(t time.Time) time.Time {
	lt := t.In(c.Location)
	end := time.Date(lt.Year(), lt.Month(), lt.Day(), c.NightEnd, 0, 0, 0, c.Location)
	if !end.After(lt) {
		end = time.Date(lt.Year(), lt.Month(), lt.Day()+1, c.NightEnd, 0, 0, 0, c.Location)
	}
	return end
}
