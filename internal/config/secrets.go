package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Opinion.APIKey)
	redact(&out.Redis.Password)
	redact(&out.Postgres.Password)

	// A DSN embeds the password, so the whole string is sensitive.
	redact(&out.Postgres.DSN)

	return out
}

// redact replaces a non-empty string with the placeholder. Empty strings are
// left empty so the output still shows which credentials are unset.
func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
