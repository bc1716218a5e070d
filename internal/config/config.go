// Package config defines the top-level configuration for the feed daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/driftlab/marketfeed/internal/candle"
	"github.com/driftlab/marketfeed/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETFEED_* environment
// variables.
type Config struct {
	Venues   map[string]VenueConfig `toml:"venues"`
	Conn     ConnConfig             `toml:"conn"`
	Postgres PostgresConfig         `toml:"postgres"`
	Redis    RedisConfig            `toml:"redis"`
	S3       S3Config               `toml:"s3"`
	LogLevel string                 `toml:"log_level"`
}

// VenueConfig holds the subscription plan and credentials for one venue.
type VenueConfig struct {
	Enabled bool `toml:"enabled"`

	// Endpoint overrides the venue's default websocket URL.
	Endpoint string `toml:"endpoint"`

	// Pairs + Channels subscribe every channel for every pair. Mutually
	// exclusive with ChannelPairs.
	Pairs    []string `toml:"pairs"`
	Channels []string `toml:"channels"`

	// ChannelPairs assigns each channel its own pair list.
	ChannelPairs map[string][]string `toml:"channel_pairs"`

	// Timeframes enables candle construction for the given windows.
	Timeframes []string `toml:"timeframes"`

	// Symbols maps canonical pairs to venue identifiers.
	Symbols map[string]string `toml:"symbols"`

	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`

	// BookInterval is the number of delta emissions between forced full
	// book refreshes.
	BookInterval int `toml:"book_interval"`
}

// ConnConfig holds connection manager tuning shared by all venues.
type ConnConfig struct {
	Watchdog          duration `toml:"watchdog"`
	WatchdogPoll      duration `toml:"watchdog_poll"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	MaxReconnectDelay duration `toml:"max_reconnect_delay"`
	MaxRetries        int      `toml:"max_retries"`
	QueueSize         int      `toml:"queue_size"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the candle
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// knownVenues enumerates the venue adapters the daemon can run.
var knownVenues = map[string]bool{
	"bitmex":   true,
	"bitfinex": true,
}

// knownChannels enumerates the channel names accepted in venue config.
var knownChannels = map[string]bool{
	string(domain.ChannelL2Book):    true,
	string(domain.ChannelL3Book):    true,
	string(domain.ChannelBookDelta): true,
	string(domain.ChannelTrades):    true,
	string(domain.ChannelTicker):    true,
	string(domain.ChannelCandle):    true,
	string(domain.ChannelKline):     true,
	string(domain.ChannelFunding):   true,
	string(domain.ChannelOrders):    true,
	string(domain.ChannelPosition):  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Venues: map[string]VenueConfig{},
		Conn: ConnConfig{
			Watchdog:          duration{30 * time.Second},
			ReconnectDelay:    duration{1 * time.Second},
			MaxReconnectDelay: duration{60 * time.Second},
			MaxRetries:        0,
			QueueSize:         1024,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "marketfeed",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketfeed-data",
			ForcePathStyle: true,
		},
		LogLevel: "info",
	}
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	enabled := 0
	for name, venue := range c.Venues {
		if !knownVenues[name] {
			errs = append(errs, fmt.Sprintf("venues: unknown venue %q (valid: bitmex, bitfinex)", name))
			continue
		}
		if !venue.Enabled {
			continue
		}
		enabled++
		errs = append(errs, venue.validate(name)...)
	}
	if enabled == 0 {
		errs = append(errs, "venues: at least one venue must be enabled")
	}

	if c.Conn.Watchdog.Duration <= 0 {
		errs = append(errs, "conn: watchdog must be > 0")
	}
	if c.Conn.WatchdogPoll.Duration < 0 {
		errs = append(errs, "conn: watchdog_poll must be >= 0 (0 picks watchdog/4)")
	}
	if c.Conn.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "conn: reconnect_delay must be > 0")
	}
	if c.Conn.MaxReconnectDelay.Duration < c.Conn.ReconnectDelay.Duration {
		errs = append(errs, "conn: max_reconnect_delay must not be below reconnect_delay")
	}
	if c.Conn.MaxRetries < 0 {
		errs = append(errs, "conn: max_retries must be >= 0")
	}
	if c.Conn.QueueSize < 1 {
		errs = append(errs, "conn: queue_size must be >= 1")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validate checks one enabled venue's subscription plan.
func (v *VenueConfig) validate(name string) []string {
	var errs []string

	hasFlat := len(v.Pairs) > 0 || len(v.Channels) > 0
	hasMap := len(v.ChannelPairs) > 0
	switch {
	case hasFlat && hasMap:
		errs = append(errs, fmt.Sprintf("%s: use pairs+channels or channel_pairs, not both", name))
	case !hasFlat && !hasMap:
		errs = append(errs, fmt.Sprintf("%s: no pairs or channels configured", name))
	case hasFlat && (len(v.Pairs) == 0 || len(v.Channels) == 0):
		errs = append(errs, fmt.Sprintf("%s: pairs and channels must both be set", name))
	}

	check := func(ch string, pairs []string) {
		if !knownChannels[ch] {
			errs = append(errs, fmt.Sprintf("%s: unknown channel %q", name, ch))
		}
		for _, pair := range pairs {
			if _, ok := v.Symbols[pair]; !ok {
				errs = append(errs, fmt.Sprintf("%s: pair %q has no symbol mapping", name, pair))
			}
		}
	}
	for _, ch := range v.Channels {
		check(ch, v.Pairs)
	}
	for ch, pairs := range v.ChannelPairs {
		check(ch, pairs)
	}

	for _, tf := range v.Timeframes {
		if _, err := candle.ParseTimeframe(tf); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if (v.APIKey == "") != (v.APISecret == "") {
		errs = append(errs, fmt.Sprintf("%s: api_key and api_secret must be set together", name))
	}
	if v.BookInterval < 0 {
		errs = append(errs, fmt.Sprintf("%s: book_interval must be >= 0", name))
	}

	return errs
}

// DomainChannels converts the configured channel names for one venue.
func (v *VenueConfig) DomainChannels() []domain.Channel {
	out := make([]domain.Channel, 0, len(v.Channels))
	for _, ch := range v.Channels {
		out = append(out, domain.Channel(ch))
	}
	return out
}

// DomainChannelPairs converts the per-channel pair map for one venue.
func (v *VenueConfig) DomainChannelPairs() map[domain.Channel][]string {
	if len(v.ChannelPairs) == 0 {
		return nil
	}
	out := make(map[domain.Channel][]string, len(v.ChannelPairs))
	for ch, pairs := range v.ChannelPairs {
		out[domain.Channel(ch)] = pairs
	}
	return out
}
