package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"). Omitted
// or zero values fall back to the defaults documented per field; Resolve turns
// the raw file view into typed values.
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Owner        OwnerConfig        `json:"owner"`
	Session      SessionConfig      `json:"session"`
	Poll         PollConfig         `json:"poll"`
	Seen         SeenConfig         `json:"seen"`
	Alert        AlertConfig        `json:"alert"`
	Lifecycle    LifecycleConfig    `json:"lifecycle"`
	Dispatch     DispatchConfig     `json:"dispatch"`
	Fingerprint  FingerprintConfig  `json:"fingerprint,omitempty"`
	Scraper      ScraperConfig      `json:"scraper"`
	Storage      StorageConfig      `json:"storage"`
	Housekeeping HousekeepingConfig `json:"housekeeping,omitempty"`
	Ops          OpsConfig          `json:"ops,omitempty"`

	// ShutdownTimeout bounds the graceful stop (default "30s").
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Owner   LoggingOwner `json:"owner"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOwner mirrors log lines at or above MinLevel to the owner channel.
type LoggingOwner struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// OwnerConfig is the operator channel used for alerts, digests and log
// mirroring. The token can be supplied through FEEDWATCH_OWNER_TOKEN.
type OwnerConfig struct {
	Channel  string `json:"channel,omitempty"` // telegram (default) | webhook
	Token    string `json:"token,omitempty"`
	ChatID   string `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// SessionConfig drives the session scheduler.
//
// Defaults:
//   - night: 22 -> 7, enabled
//   - catch_up: "8h"
//   - length: "40m".."90m"
//   - warmup: disabled, "5m".."15m", interval_factor 2.0
//   - cooldown: "2m".."5m"
type SessionConfig struct {
	Timezone string       `json:"timezone,omitempty"`
	Night    NightConfig  `json:"night"`
	CatchUp  string       `json:"catch_up,omitempty"`
	Length   RangeConfig  `json:"length"`
	Warmup   WarmupConfig `json:"warmup"`
	Cooldown RangeConfig  `json:"cooldown"`
}

// NightConfig is the [StartHour, EndHour) local-time window. A window that
// wraps midnight (22 -> 7) is allowed.
type NightConfig struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"start_hour"`
	EndHour   int  `json:"end_hour"`
}

type RangeConfig struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

type WarmupConfig struct {
	Enabled        bool    `json:"enabled"`
	Min            string  `json:"min,omitempty"`
	Max            string  `json:"max,omitempty"`
	IntervalFactor float64 `json:"interval_factor,omitempty"`
}

// PollConfig controls a single poll cycle.
type PollConfig struct {
	Interval      string `json:"interval"`                // default "3m"
	MaxAgeMinutes int    `json:"max_age_minutes"`         // <= 0 disables the age filter
	KeepUnparsed  bool   `json:"keep_unparseable_age"`    // default false (drop)
	FetchTimeout  string `json:"fetch_timeout,omitempty"` // default "45s"
	StepTimeout   string `json:"step_timeout,omitempty"`  // default "2m"
}

// SeenConfig controls the deduplication cache.
type SeenConfig struct {
	FlushDelay string `json:"flush_delay,omitempty"` // default "5s"
	Retention  string `json:"retention,omitempty"`   // default "0s" (unbounded)
}

type AlertConfig struct {
	Cooldown  string `json:"cooldown,omitempty"`   // default "120s"
	MaxLength int    `json:"max_length,omitempty"` // default 1000
}

type LifecycleConfig struct {
	DormantAfterDays int `json:"dormant_after_days,omitempty"` // default 14
}

// DispatchConfig lists notification destinations and pacing.
type DispatchConfig struct {
	Timeout      string              `json:"timeout,omitempty"` // default "15s"
	GapMin       string              `json:"gap_min,omitempty"` // default "300ms"
	GapMax       string              `json:"gap_max,omitempty"` // default "400ms"
	Concurrency  int                 `json:"concurrency,omitempty"`
	RatePerSec   float64             `json:"rate_per_sec,omitempty"` // per destination, default 1
	Destinations []DestinationConfig `json:"destinations"`
}

// DestinationConfig is one notification endpoint.
//
// Credential may be given inline or through CredentialEnv (preferred). A
// destination without a usable credential is disabled for the run.
type DestinationConfig struct {
	Name          string `json:"name"`
	Channel       string `json:"channel"` // telegram | webhook
	Enabled       bool   `json:"enabled"`
	Credential    string `json:"credential,omitempty"`
	CredentialEnv string `json:"credential_env,omitempty"`
	DestinationID string `json:"destination_id"`
	ThreadID      int    `json:"thread_id,omitempty"`
	Format        string `json:"format,omitempty"` // rich (default) | plain
}

type FingerprintConfig struct {
	// Fields hashed when an item has no platform id (default author,text).
	Fields []string `json:"fields,omitempty"`
}

// ScraperConfig configures the headless browser collaborator.
type ScraperConfig struct {
	BrowserBin    string `json:"browser_bin,omitempty"`
	Headless      *bool  `json:"headless,omitempty"` // default true
	UserDataDir   string `json:"user_data_dir,omitempty"`
	WaitSelector  string `json:"wait_selector,omitempty"`
	ExtractScript string `json:"extract_script,omitempty"`
	SettleDelay   string `json:"settle_delay,omitempty"` // default "2s"
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/feedwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file | sqlite | redis | none
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	RedisURL    string `json:"redis_url,omitempty"`
	RedisPrefix string `json:"redis_prefix,omitempty"`
}

type HousekeepingConfig struct {
	Timezone  string `json:"timezone,omitempty"`
	Digest    string `json:"digest,omitempty"`     // cron spec, default "0 9 * * *"; "off" disables
	SeenFlush string `json:"seen_flush,omitempty"` // cron spec, default "@every 10m"
}

// OpsConfig controls the operational HTTP server (/healthz, /status, /metrics,
// /debug/pprof).
//
// Prefer binding to localhost. A non-loopback address requires a token or an
// explicit allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:9477"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
