package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "DISHDEX_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "DISHDEX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DISHDEX_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "analysis.api_key", typ: kString, env: "DISHDEX_ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Analysis.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.APIKey },
	},
	{
		key: "analysis.base_url", typ: kString, env: "DISHDEX_ANALYSIS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Analysis.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.BaseURL },
	},
	{
		key: "analysis.model", typ: kString, env: "DISHDEX_ANALYSIS_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.Model },
	},
	{
		key: "analysis.max_tokens", typ: kInt, env: "DISHDEX_ANALYSIS_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Analysis.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.MaxTokens },
	},
	{
		key: "analysis.temperature", typ: kFloat, env: "DISHDEX_ANALYSIS_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analysis.Temperature },
	},
	{
		key: "analysis.timeout", typ: kDuration, env: "DISHDEX_ANALYSIS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analysis.Timeout },
	},
	{
		key: "analysis.philosophical_mode", typ: kBool, env: "DISHDEX_ANALYSIS_PHILOSOPHICAL_MODE",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Philosophical = v.(bool) },
		extract: func(cfg Config) any { return cfg.Analysis.Philosophical },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DISHDEX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "DISHDEX_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.base_delay", typ: kDuration, env: "DISHDEX_RETRY_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.BaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.BaseDelay },
	},
	{
		key: "enrichment.workers", typ: kInt, env: "DISHDEX_ENRICHMENT_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Enrichment.Workers },
	},
	{
		key: "enrichment.poll_interval", typ: kDuration, env: "DISHDEX_ENRICHMENT_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Enrichment.PollInterval },
	},
	{
		key: "enrichment.stale_after", typ: kDuration, env: "DISHDEX_ENRICHMENT_STALE_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.StaleAfter = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Enrichment.StaleAfter },
	},
	{
		key: "profiles.schedule", typ: kString, env: "DISHDEX_PROFILES_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Profiles.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Profiles.Schedule },
	},
	{
		key: "profiles.batch_size", typ: kInt, env: "DISHDEX_PROFILES_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Profiles.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Profiles.BatchSize },
	},
	{
		key: "locale", typ: kString, env: "DISHDEX_LOCALE",
		apply:   func(cfg *Config, v any) { cfg.Locale = v.(string) },
		extract: func(cfg Config) any { return cfg.Locale },
	},
	{
		key: "log.level", typ: kString, env: "DISHDEX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts raw to the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
