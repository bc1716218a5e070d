package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validTOML = `
log_level = "debug"

[conn]
watchdog = "10s"
watchdog_poll = "2s"
reconnect_delay = "500ms"

[venues.bitmex]
enabled = true
pairs = ["BTC/USD"]
channels = ["trades", "l2_book"]
timeframes = ["1m", "1h"]

[venues.bitmex.symbols]
"BTC/USD" = "XBTUSD"
`

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Conn.Watchdog.Duration != 10*time.Second {
		t.Errorf("watchdog = %s", cfg.Conn.Watchdog.Duration)
	}
	if cfg.Conn.WatchdogPoll.Duration != 2*time.Second {
		t.Errorf("watchdog_poll = %s", cfg.Conn.WatchdogPoll.Duration)
	}
	if cfg.Conn.ReconnectDelay.Duration != 500*time.Millisecond {
		t.Errorf("reconnect_delay = %s", cfg.Conn.ReconnectDelay.Duration)
	}
	// Untouched sections keep their defaults.
	if cfg.Conn.MaxReconnectDelay.Duration != 60*time.Second {
		t.Errorf("max_reconnect_delay = %s", cfg.Conn.MaxReconnectDelay.Duration)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}

	venue := cfg.Venues["bitmex"]
	if !venue.Enabled || len(venue.Pairs) != 1 || venue.Symbols["BTC/USD"] != "XBTUSD" {
		t.Errorf("venue = %+v", venue)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETFEED_BITMEX_API_KEY", "env-key")
	t.Setenv("MARKETFEED_BITMEX_API_SECRET", "env-secret")
	t.Setenv("MARKETFEED_LOG_LEVEL", "warn")
	t.Setenv("MARKETFEED_CONN_WATCHDOG", "90s")
	t.Setenv("MARKETFEED_CONN_WATCHDOG_POLL", "15s")
	t.Setenv("MARKETFEED_REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load(writeConfig(t, validTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Venues["bitmex"].APIKey != "env-key" || cfg.Venues["bitmex"].APISecret != "env-secret" {
		t.Errorf("venue creds = %+v", cfg.Venues["bitmex"])
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Conn.Watchdog.Duration != 90*time.Second {
		t.Errorf("watchdog = %s", cfg.Conn.Watchdog.Duration)
	}
	if cfg.Conn.WatchdogPoll.Duration != 15*time.Second {
		t.Errorf("watchdog_poll = %s", cfg.Conn.WatchdogPoll.Duration)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Conn.QueueSize = 0
	cfg.Venues = map[string]VenueConfig{
		"bogus": {Enabled: true},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"log_level", "queue_size", "unknown venue", "at least one venue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateVenueRules(t *testing.T) {
	tests := []struct {
		name  string
		venue VenueConfig
		want  string
	}{
		{
			name: "pairs and channel map together",
			venue: VenueConfig{
				Enabled:      true,
				Pairs:        []string{"BTC/USD"},
				Channels:     []string{"trades"},
				ChannelPairs: map[string][]string{"ticker": {"BTC/USD"}},
				Symbols:      map[string]string{"BTC/USD": "XBTUSD"},
			},
			want: "not both",
		},
		{
			name:  "nothing configured",
			venue: VenueConfig{Enabled: true},
			want:  "no pairs or channels",
		},
		{
			name: "unknown channel",
			venue: VenueConfig{
				Enabled:  true,
				Pairs:    []string{"BTC/USD"},
				Channels: []string{"depth"},
				Symbols:  map[string]string{"BTC/USD": "XBTUSD"},
			},
			want: `unknown channel "depth"`,
		},
		{
			name: "missing symbol mapping",
			venue: VenueConfig{
				Enabled:  true,
				Pairs:    []string{"ETH/USD"},
				Channels: []string{"trades"},
			},
			want: "no symbol mapping",
		},
		{
			name: "bad timeframe",
			venue: VenueConfig{
				Enabled:    true,
				Pairs:      []string{"BTC/USD"},
				Channels:   []string{"candle"},
				Timeframes: []string{"7m"},
				Symbols:    map[string]string{"BTC/USD": "XBTUSD"},
			},
			want: "unknown timeframe",
		},
		{
			name: "half credentials",
			venue: VenueConfig{
				Enabled:  true,
				Pairs:    []string{"BTC/USD"},
				Channels: []string{"trades"},
				Symbols:  map[string]string{"BTC/USD": "XBTUSD"},
				APIKey:   "key-only",
			},
			want: "set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Venues = map[string]VenueConfig{"bitmex": tt.venue}
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Venues = map[string]VenueConfig{
		"bitmex": {APIKey: "key", APISecret: "secret"},
	}
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "s3secret"

	red := RedactedConfig(&cfg)
	if red.Venues["bitmex"].APIKey != "***" || red.Venues["bitmex"].APISecret != "***" {
		t.Errorf("venue creds not redacted: %+v", red.Venues["bitmex"])
	}
	if red.Postgres.Password != "***" || red.S3.SecretKey != "***" {
		t.Errorf("store secrets not redacted")
	}

	// The original must be untouched.
	if cfg.Venues["bitmex"].APIKey != "key" || cfg.Postgres.Password != "hunter2" {
		t.Errorf("original mutated: %+v", cfg.Venues["bitmex"])
	}
}
