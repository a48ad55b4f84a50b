package config

import (
	"reflect"
	"sort"
	"strings"

	logx "feedwatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Credentials and tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.owner_enabled", newCfg.Logging.Owner.Enabled),
		)
	}

	// Owner (never log token)
	if strings.TrimSpace(oldCfg.Owner.ChatID) != strings.TrimSpace(newCfg.Owner.ChatID) ||
		oldCfg.Owner.ThreadID != newCfg.Owner.ThreadID ||
		oldCfg.Owner.Channel != newCfg.Owner.Channel ||
		(oldCfg.Owner.Token != "") != (newCfg.Owner.Token != "") {
		changed = append(changed, "owner")
		attrs = append(attrs,
			logx.String("owner.channel", newCfg.Owner.Channel),
			logx.Bool("owner.chat_set", strings.TrimSpace(newCfg.Owner.ChatID) != ""),
			logx.Bool("owner.token_set", newCfg.Owner.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Session, newCfg.Session) {
		changed = append(changed, "session")
		s := newCfg.Session
		attrs = append(attrs,
			logx.Bool("session.night", s.Night.Enabled),
			logx.Int("session.night_start", s.Night.StartHour),
			logx.Int("session.night_end", s.Night.EndHour),
			logx.String("session.length_min", s.Length.Min),
			logx.String("session.length_max", s.Length.Max),
			logx.Bool("session.warmup", s.Warmup.Enabled),
		)
	}

	if oldCfg.Poll != newCfg.Poll {
		changed = append(changed, "poll")
		attrs = append(attrs,
			logx.String("poll.interval", newCfg.Poll.Interval),
			logx.Int("poll.max_age_minutes", newCfg.Poll.MaxAgeMinutes),
			logx.Bool("poll.keep_unparseable_age", newCfg.Poll.KeepUnparsed),
		)
	}

	if oldCfg.Seen != newCfg.Seen {
		changed = append(changed, "seen")
		attrs = append(attrs,
			logx.String("seen.flush_delay", newCfg.Seen.FlushDelay),
			logx.String("seen.retention", newCfg.Seen.Retention),
		)
	}

	if oldCfg.Alert != newCfg.Alert {
		changed = append(changed, "alert")
		attrs = append(attrs,
			logx.String("alert.cooldown", newCfg.Alert.Cooldown),
			logx.Int("alert.max_length", newCfg.Alert.MaxLength),
		)
	}

	if oldCfg.Lifecycle != newCfg.Lifecycle {
		changed = append(changed, "lifecycle")
		attrs = append(attrs, logx.Int("lifecycle.dormant_after_days", newCfg.Lifecycle.DormantAfterDays))
	}

	if !reflect.DeepEqual(redactDispatch(oldCfg.Dispatch), redactDispatch(newCfg.Dispatch)) {
		changed = append(changed, "dispatch")
		enabled := 0
		for _, d := range newCfg.Dispatch.Destinations {
			if d.Enabled {
				enabled++
			}
		}
		attrs = append(attrs,
			logx.Int("dispatch.destinations", len(newCfg.Dispatch.Destinations)),
			logx.Int("dispatch.enabled", enabled),
			logx.Int("dispatch.concurrency", newCfg.Dispatch.Concurrency),
		)
	}

	if !reflect.DeepEqual(oldCfg.Fingerprint, newCfg.Fingerprint) {
		changed = append(changed, "fingerprint")
		attrs = append(attrs, logx.Strings("fingerprint.fields", newCfg.Fingerprint.Fields))
	}

	if !reflect.DeepEqual(oldCfg.Scraper, newCfg.Scraper) {
		changed = append(changed, "scraper")
	}

	// Storage (never log redis url, it may carry a password)
	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		oldCfg.Storage.Path != newCfg.Storage.Path ||
		oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout ||
		oldCfg.Storage.RedisPrefix != newCfg.Storage.RedisPrefix ||
		oldCfg.Storage.RedisURL != newCfg.Storage.RedisURL {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Housekeeping != newCfg.Housekeeping {
		changed = append(changed, "housekeeping")
		attrs = append(attrs,
			logx.String("housekeeping.digest", newCfg.Housekeeping.Digest),
			logx.String("housekeeping.seen_flush", newCfg.Housekeeping.SeenFlush),
		)
	}

	// Ops (never log token)
	if redactOps(oldCfg.Ops) != redactOps(newCfg.Ops) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	if oldCfg.ShutdownTimeout != newCfg.ShutdownTimeout {
		changed = append(changed, "shutdown_timeout")
	}

	sort.Strings(changed)
	return changed, attrs
}

func redactDispatch(d DispatchConfig) DispatchConfig {
	out := d
	out.Destinations = make([]DestinationConfig, len(d.Destinations))
	for i, dst := range d.Destinations {
		if dst.Credential != "" {
			dst.Credential = "set"
		}
		out.Destinations[i] = dst
	}
	return out
}

func redactOps(o OpsConfig) OpsConfig {
	if o.Token != "" {
		o.Token = "set"
	}
	return o
}
