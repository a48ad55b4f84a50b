package config

import (
	"os"
	"strings"
)

// Environment variables that override file values. Secrets are expected to
// come from the environment (or a .env file loaded by the CLI).
const (
	EnvOwnerToken  = "FEEDWATCH_OWNER_TOKEN"
	EnvOwnerChatID = "FEEDWATCH_OWNER_CHAT_ID"
	EnvLogLevel    = "FEEDWATCH_LOG_LEVEL"
	EnvRedisURL    = "FEEDWATCH_REDIS_URL"
	EnvOpsToken    = "FEEDWATCH_OPS_TOKEN"
	EnvBrowserBin  = "FEEDWATCH_BROWSER_BIN"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment values onto cfg. Destination credentials named
// by credential_env are resolved here as well, so the rest of the program only
// reads DestinationConfig.Credential.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvOwnerToken); ok {
		cfg.Owner.Token = v
	}
	if v, ok := get(EnvOwnerChatID); ok {
		cfg.Owner.ChatID = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvRedisURL); ok {
		cfg.Storage.RedisURL = v
	}
	if v, ok := get(EnvOpsToken); ok {
		cfg.Ops.Token = v
	}
	if v, ok := get(EnvBrowserBin); ok {
		cfg.Scraper.BrowserBin = v
	}

	for i := range cfg.Dispatch.Destinations {
		d := &cfg.Dispatch.Destinations[i]
		name := strings.TrimSpace(d.CredentialEnv)
		if name == "" {
			continue
		}
		if v, ok := get(name); ok {
			d.Credential = v
		}
	}
}
