package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the structural parts of cfg that cannot be repaired with a
// default. Scheduler bounds (min > max, zero intervals) are deliberately not
// rejected here; the scheduler replaces them at runtime and logs loudly.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	durations := map[string]string{
		"session.catch_up":     cfg.Session.CatchUp,
		"session.length.min":   cfg.Session.Length.Min,
		"session.length.max":   cfg.Session.Length.Max,
		"session.warmup.min":   cfg.Session.Warmup.Min,
		"session.warmup.max":   cfg.Session.Warmup.Max,
		"session.cooldown.min": cfg.Session.Cooldown.Min,
		"session.cooldown.max": cfg.Session.Cooldown.Max,
		"poll.interval":        cfg.Poll.Interval,
		"poll.fetch_timeout":   cfg.Poll.FetchTimeout,
		"poll.step_timeout":    cfg.Poll.StepTimeout,
		"seen.flush_delay":     cfg.Seen.FlushDelay,
		"seen.retention":       cfg.Seen.Retention,
		"alert.cooldown":       cfg.Alert.Cooldown,
		"dispatch.timeout":     cfg.Dispatch.Timeout,
		"dispatch.gap_min":     cfg.Dispatch.GapMin,
		"dispatch.gap_max":     cfg.Dispatch.GapMax,
		"scraper.settle_delay": cfg.Scraper.SettleDelay,
		"storage.busy_timeout": cfg.Storage.BusyTimeout,
		"ops.read_timeout":     cfg.Ops.ReadTimeout,
		"ops.write_timeout":    cfg.Ops.WriteTimeout,
		"ops.idle_timeout":     cfg.Ops.IdleTimeout,
		"shutdown_timeout":     cfg.ShutdownTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	n := cfg.Session.Night
	if n.StartHour < 0 || n.StartHour > 23 {
		errs = append(errs, fmt.Errorf("session.night.start_hour: must be 0..23, got %d", n.StartHour))
	}
	if n.EndHour < 0 || n.EndHour > 23 {
		errs = append(errs, fmt.Errorf("session.night.end_hour: must be 0..23, got %d", n.EndHour))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3", "redis":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Owner.Channel)) {
	case "", "telegram", "webhook":
	default:
		errs = append(errs, fmt.Errorf("owner.channel: unknown channel %q", cfg.Owner.Channel))
	}

	seen := map[string]struct{}{}
	for i, d := range cfg.Dispatch.Destinations {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("dispatch.destinations[%d].name: required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("dispatch.destinations[%d].name: duplicate %q", i, name))
		}
		seen[name] = struct{}{}
		switch strings.ToLower(strings.TrimSpace(d.Channel)) {
		case "telegram", "webhook":
		default:
			errs = append(errs, fmt.Errorf("dispatch.destinations[%d].channel: unknown channel %q", i, d.Channel))
		}
		switch strings.ToLower(strings.TrimSpace(d.Format)) {
		case "", "rich", "plain":
		default:
			errs = append(errs, fmt.Errorf("dispatch.destinations[%d].format: unknown format %q", i, d.Format))
		}
	}
	if cfg.Dispatch.Concurrency < 0 {
		errs = append(errs, errors.New("dispatch.concurrency: must be >= 0"))
	}

	for i, f := range cfg.Fingerprint.Fields {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "author", "text", "age", "image", "permalink":
		default:
			errs = append(errs, fmt.Errorf("fingerprint.fields[%d]: unknown field %q", i, f))
		}
	}

	return errors.Join(errs...)
}
