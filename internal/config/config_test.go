package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
logging:
  level: debug
  console: true
owner:
  chat_id: "-100123"
session:
  night: { enabled: true, start_hour: 22, end_hour: 7 }
  length: { min: 40m, max: 90m }
  cooldown: { min: 2m, max: 5m }
  warmup: { enabled: true, min: 5m, max: 10m }
poll:
  interval: 3m
  max_age_minutes: 30
dispatch:
  destinations:
    - name: main
      channel: telegram
      enabled: true
      credential_env: MAIN_BOT_TOKEN
      destination_id: "-100456"
storage:
  driver: file
  path: ./data/feedwatch
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func fakeEnv(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParseYAMLWithEnvOverlay(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeConfig(t, "feedwatch.yaml", sampleYAML))
	m.SetLookupEnv(fakeEnv(map[string]string{
		EnvOwnerToken:    "owner-secret",
		"MAIN_BOT_TOKEN": "dest-secret",
	}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Owner.Token != "owner-secret" {
		t.Fatalf("owner token not taken from env: %q", cfg.Owner.Token)
	}
	if got := cfg.Dispatch.Destinations[0].Credential; got != "dest-secret" {
		t.Fatalf("destination credential = %q", got)
	}
	if cfg.Session.Night.StartHour != 22 || cfg.Session.Night.EndHour != 7 {
		t.Fatalf("night window = %+v", cfg.Session.Night)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeConfig(t, "feedwatch.json", `{"poll":{"interval":"1m","bogus":1}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "bad duration", mutate: func(c *Config) { c.Poll.Interval = "soon" }, wantErr: "poll.interval"},
		{name: "negative duration", mutate: func(c *Config) { c.Alert.Cooldown = "-1s" }, wantErr: "alert.cooldown"},
		{name: "bad hour", mutate: func(c *Config) { c.Session.Night.EndHour = 24 }, wantErr: "end_hour"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "storage.driver"},
		{name: "dup destination", mutate: func(c *Config) {
			c.Dispatch.Destinations = append(c.Dispatch.Destinations, c.Dispatch.Destinations[0])
		}, wantErr: "duplicate"},
		{name: "bad channel", mutate: func(c *Config) { c.Dispatch.Destinations[0].Channel = "pigeon" }, wantErr: "channel"},
		{name: "min above max is not fatal", mutate: func(c *Config) {
			c.Session.Length = RangeConfig{Min: "2h", Max: "1h"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Dispatch: DispatchConfig{Destinations: []DestinationConfig{{Name: "a", Channel: "telegram", Enabled: true}}},
			}
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSummarizeConfigChangeSections(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Owner: OwnerConfig{Token: "aaa"}}
	newCfg := &Config{
		Owner: OwnerConfig{Token: "bbb", ChatID: "1"},
		Poll:  PollConfig{Interval: "5m"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "owner,poll" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
}

func TestExampleConfigParses(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(filepath.Join("..", "..", "config.example.yaml"))
	m.SetLookupEnv(fakeEnv(map[string]string{"FEEDWATCH_MAIN_BOT_TOKEN": "tok"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if len(cfg.Dispatch.Destinations) != 2 || cfg.Dispatch.Destinations[0].Credential != "tok" {
		t.Fatalf("destinations = %+v", cfg.Dispatch.Destinations)
	}
	if cfg.Scraper.Headless == nil || !*cfg.Scraper.Headless {
		t.Fatalf("scraper.headless not decoded")
	}
}
