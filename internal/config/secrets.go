package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Copy the venue map so mutations to the redacted copy do not affect
	// the original.
	out.Venues = make(map[string]VenueConfig, len(cfg.Venues))
	for name, venue := range cfg.Venues {
		redact(&venue.APIKey)
		redact(&venue.APISecret)
		out.Venues[name] = venue
	}

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
