package app

import (
	"fmt"
	"strings"
	"time"

	"feedwatch/internal/alert"
	"feedwatch/internal/config"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/housekeeping"
	"feedwatch/internal/lifecycle"
	"feedwatch/internal/monitor"
	"feedwatch/internal/ops"
	"feedwatch/internal/scrape"
	"feedwatch/internal/seen"
	"feedwatch/internal/session"
	"feedwatch/internal/storage"
	"feedwatch/internal/transport"
	logx "feedwatch/pkg/logx"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultDigestSchedule  = "0 9 * * *"
	defaultFlushSchedule   = "@every 10m"
	ownerDestinationName   = "owner"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Owner: logx.OwnerConfig{
			Enabled:    cfg.Logging.Owner.Enabled,
			MinLevel:   cfg.Logging.Owner.MinLevel,
			RatePerSec: cfg.Logging.Owner.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, nil
	case "file":
		if path == "" {
			path = "./data/feedwatch.json"
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "redis":
		if strings.TrimSpace(sc.RedisURL) == "" {
			return storage.Config{}, fmt.Errorf("storage.redis_url is required when storage.driver=redis")
		}
		prefix := strings.TrimSpace(sc.RedisPrefix)
		if prefix == "" {
			prefix = "feedwatch:"
		}
		return storage.Config{Driver: driver, RedisURL: strings.TrimSpace(sc.RedisURL), RedisPrefix: prefix}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapSessionConfig parses the scheduler settings. Inverted or zero bounds are
// passed through; the scheduler replaces them and logs at error level.
func mapSessionConfig(cfg *config.Config) (session.Config, error) {
	s := cfg.Session
	out := session.DefaultConfig()

	out.Location = time.Local
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return session.Config{}, fmt.Errorf("session.timezone: invalid %q: %w", tz, err)
		}
		out.Location = loc
	}

	out.NightEnabled = s.Night.Enabled
	if s.Night.StartHour != 0 || s.Night.EndHour != 0 {
		out.NightStart, out.NightEnd = s.Night.StartHour, s.Night.EndHour
	}
	out.WarmupEnabled = s.Warmup.Enabled
	if s.Warmup.IntervalFactor != 0 {
		out.WarmupFactor = s.Warmup.IntervalFactor
	}

	var err error
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"session.catch_up", s.CatchUp, &out.CatchUp},
		{"session.length.min", s.Length.Min, &out.Length.Min},
		{"session.length.max", s.Length.Max, &out.Length.Max},
		{"session.warmup.min", s.Warmup.Min, &out.Warmup.Min},
		{"session.warmup.max", s.Warmup.Max, &out.Warmup.Max},
		{"session.cooldown.min", s.Cooldown.Min, &out.Cooldown.Min},
		{"session.cooldown.max", s.Cooldown.Max, &out.Cooldown.Max},
		{"poll.interval", cfg.Poll.Interval, &out.PollInterval},
	}
	for _, f := range fields {
		if *f.dst, err = config.ParseDurationOrDefault(f.path, f.raw, *f.dst); err != nil {
			return session.Config{}, err
		}
	}
	return out, nil
}

func mapSeenConfig(cfg *config.Config) (seen.Config, error) {
	delay, err := config.ParseDurationOrDefault("seen.flush_delay", cfg.Seen.FlushDelay, seen.DefaultFlushDelay)
	if err != nil {
		return seen.Config{}, err
	}
	retention, err := config.ParseDurationField("seen.retention", cfg.Seen.Retention)
	if err != nil {
		return seen.Config{}, err
	}
	return seen.Config{FlushDelay: delay, Retention: retention}, nil
}

func mapAlertConfig(cfg *config.Config) (alert.Config, error) {
	cd, err := config.ParseDurationOrDefault("alert.cooldown", cfg.Alert.Cooldown, alert.DefaultCooldown)
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{Cooldown: cd, MaxLength: cfg.Alert.MaxLength}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	dc := cfg.Dispatch
	timeout, err := config.ParseDurationOrDefault("dispatch.timeout", dc.Timeout, dispatch.DefaultTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	gapMin, err := config.ParseDurationOrDefault("dispatch.gap_min", dc.GapMin, dispatch.DefaultGapMin)
	if err != nil {
		return dispatch.Config{}, err
	}
	gapMax, err := config.ParseDurationOrDefault("dispatch.gap_max", dc.GapMax, dispatch.DefaultGapMax)
	if err != nil {
		return dispatch.Config{}, err
	}
	rate := dc.RatePerSec
	if rate == 0 {
		rate = 1
	}

	dests := make([]transport.Destination, 0, len(dc.Destinations))
	for _, d := range dc.Destinations {
		format := transport.Format(strings.ToLower(strings.TrimSpace(d.Format)))
		if format == "" {
			format = transport.FormatRich
		}
		dests = append(dests, transport.Destination{
			Name:          strings.TrimSpace(d.Name),
			Channel:       transport.Channel(strings.ToLower(strings.TrimSpace(d.Channel))),
			Credential:    strings.TrimSpace(d.Credential),
			DestinationID: strings.TrimSpace(d.DestinationID),
			ThreadID:      d.ThreadID,
			Enabled:       d.Enabled,
			Format:        format,
		})
	}
	return dispatch.Config{
		Timeout:      timeout,
		GapMin:       gapMin,
		GapMax:       gapMax,
		Concurrency:  dc.Concurrency,
		RatePerSec:   rate,
		Destinations: dests,
	}, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	fetch, err := config.ParseDurationOrDefault("poll.fetch_timeout", cfg.Poll.FetchTimeout, monitor.DefaultFetchTimeout)
	if err != nil {
		return monitor.Config{}, err
	}
	step, err := config.ParseDurationOrDefault("poll.step_timeout", cfg.Poll.StepTimeout, monitor.DefaultStepTimeout)
	if err != nil {
		return monitor.Config{}, err
	}
	days := cfg.Lifecycle.DormantAfterDays
	if days <= 0 {
		days = lifecycle.DefaultDormantAfterDays
	}
	fields := make([]string, 0, len(cfg.Fingerprint.Fields))
	for _, f := range cfg.Fingerprint.Fields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			fields = append(fields, f)
		}
	}
	return monitor.Config{
		MaxAgeMinutes:     cfg.Poll.MaxAgeMinutes,
		KeepUnparseable:   cfg.Poll.KeepUnparsed,
		FetchTimeout:      fetch,
		StepTimeout:       step,
		DormantAfterDays:  days,
		FingerprintFields: fields,
	}, nil
}

func mapScrapeConfig(cfg *config.Config) (scrape.Config, error) {
	sc := cfg.Scraper
	settle, err := config.ParseDurationOrDefault("scraper.settle_delay", sc.SettleDelay, 2*time.Second)
	if err != nil {
		return scrape.Config{}, err
	}
	headless := true
	if sc.Headless != nil {
		headless = *sc.Headless
	}
	return scrape.Config{
		BrowserBin:    strings.TrimSpace(sc.BrowserBin),
		Headless:      headless,
		UserDataDir:   strings.TrimSpace(sc.UserDataDir),
		WaitSelector:  strings.TrimSpace(sc.WaitSelector),
		ExtractScript: sc.ExtractScript,
		SettleDelay:   settle,
	}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 30*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	addr := strings.TrimSpace(oc.Addr)
	if addr == "" {
		addr = ops.DefaultAddr
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// housekeepingPlan is the job schedule derived from config.
type housekeepingPlan struct {
	cfg       housekeeping.Config
	digest    string
	seenFlush string
}

func mapHousekeeping(cfg *config.Config) (housekeepingPlan, error) {
	hc := cfg.Housekeeping
	tz := strings.TrimSpace(hc.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Session.Timezone)
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return housekeepingPlan{}, fmt.Errorf("housekeeping.timezone: invalid %q: %w", tz, err)
		}
	}
	p := housekeepingPlan{
		cfg:       housekeeping.Config{Timezone: tz},
		digest:    strings.TrimSpace(hc.Digest),
		seenFlush: strings.TrimSpace(hc.SeenFlush),
	}
	if p.digest == "" {
		p.digest = defaultDigestSchedule
	}
	if p.seenFlush == "" {
		p.seenFlush = defaultFlushSchedule
	}
	for path, raw := range map[string]string{"housekeeping.digest": p.digest, "housekeeping.seen_flush": p.seenFlush} {
		if strings.EqualFold(raw, housekeeping.Off) {
			continue
		}
		if _, err := housekeeping.ParseSchedule(raw); err != nil {
			return housekeepingPlan{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	return p, nil
}

// ownerDestination maps the owner block onto a transport destination. The
// owner channel is rendered as plain text or HTML depending on the payload.
func ownerDestination(cfg *config.Config) transport.Destination {
	ch := transport.Channel(strings.ToLower(strings.TrimSpace(cfg.Owner.Channel)))
	if ch == "" {
		ch = transport.ChannelTelegram
	}
	return transport.Destination{
		Name:          ownerDestinationName,
		Channel:       ch,
		Credential:    strings.TrimSpace(cfg.Owner.Token),
		DestinationID: strings.TrimSpace(cfg.Owner.ChatID),
		ThreadID:      cfg.Owner.ThreadID,
		Enabled:       true,
		Format:        transport.FormatRich,
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("shutdown_timeout", cfg.ShutdownTimeout, defaultShutdownTimeout)
	if err != nil || d <= 0 {
		return defaultShutdownTimeout
	}
	return d
}

// validateConfig runs every mapping so a bad hot reload is rejected before it
// is committed.
func validateConfig(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSessionConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSeenConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAlertConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMonitorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScrapeConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHousekeeping(cfg); err != nil {
		return err
	}
	return nil
}
