package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Venues = make(map[string]VenueConfig, len(cfg.Venues))
	for name, v := range cfg.Venues {
		redact(&v.APIKey)
		redact(&v.APISecret)
		redact(&v.SecretPassword)
		out.Venues[name] = v
	}

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramBotToken)

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
