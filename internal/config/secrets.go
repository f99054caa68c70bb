package config

import "net/url"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". RPC endpoint URLs keep their scheme and host
// but lose path, query and credentials, where providers put API keys.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Chains = make([]ChainConfig, len(cfg.Chains))
	for i, ch := range cfg.Chains {
		eps := make([]string, len(ch.Endpoints))
		for j, ep := range ch.Endpoints {
			eps[j] = redactURL(ep)
		}
		ch.Endpoints = eps
		out.Chains[i] = ch
	}

	redact(&out.Execution.WebhookURL)
	redact(&out.Execution.WebhookSecret)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
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

// redactURL keeps only scheme and host of a URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	if u.Path == "" && u.RawQuery == "" && u.User == nil {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
