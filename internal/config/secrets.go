package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	out.Chain = cfg.Chain
	redact(&out.Chain.WalletPrivateKey)
	redact(&out.Chain.PrivateRelayURL)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Chain.Endpoints != nil {
		out.Chain.Endpoints = make([]EndpointConfig, len(cfg.Chain.Endpoints))
		copy(out.Chain.Endpoints, cfg.Chain.Endpoints)
	}
	if cfg.Search.BaseTokens != nil {
		out.Search.BaseTokens = make([]string, len(cfg.Search.BaseTokens))
		copy(out.Search.BaseTokens, cfg.Search.BaseTokens)
	}
	if cfg.Search.TestNotionalsUSD != nil {
		out.Search.TestNotionalsUSD = make([]float64, len(cfg.Search.TestNotionalsUSD))
		copy(out.Search.TestNotionalsUSD, cfg.Search.TestNotionalsUSD)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
