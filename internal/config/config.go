package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron"

	"github.com/kalambet/dishdex/internal/locale"
	"github.com/kalambet/dishdex/internal/retry"
)

type Config struct {
	Server     ServerConfig
	Analysis   AnalysisConfig
	Storage    StorageConfig
	Retry      RetryConfig
	Enrichment EnrichmentConfig
	Profiles   ProfilesConfig
	Locale     string
	Log        LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// APIToken guards every HTTP route except /health. Empty disables auth.
	APIToken string
}

type AnalysisConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	Philosophical bool
}

type StorageConfig struct {
	DataDir string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type EnrichmentConfig struct {
	Workers      int
	PollInterval time.Duration
	StaleAfter   time.Duration
}

type ProfilesConfig struct {
	Schedule  string
	BatchSize int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Analysis: AnalysisConfig{
			BaseURL:     "https://api.anthropic.com/v1",
			Model:       "claude-sonnet-4-5-20250929",
			MaxTokens:   4096,
			Temperature: 1.0,
			Timeout:     60 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		Enrichment: EnrichmentConfig{
			Workers:      2,
			PollInterval: 500 * time.Millisecond,
			StaleAfter:   10 * time.Minute,
		},
		Profiles: ProfilesConfig{
			Schedule:  "@every 6h",
			BatchSize: 50,
		},
		Locale: locale.Default,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML config file, DISHDEX_* environment
// variables and the secrets file, then validates it.
//
// The config file lives at $XDG_CONFIG_HOME/dishdex/config.yaml unless
// DISHDEX_CONFIG_FILE points elsewhere. Secrets not set in the environment
// are read from the secrets file in the data directory.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(dataDir, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg, err := Resolve(b, secrets)
	if err != nil {
		return Config{}, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Resolve applies every configuration source without validating the
// result. It is what `config show` displays.
func Resolve(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if secrets != nil {
		for _, s := range specs {
			if !s.secret || s.extract(cfg) != "" {
				continue
			}
			if v, err := secrets.Get(cfg.Storage.DataDir, s.key); err == nil && v != "" {
				s.apply(&cfg, v)
			}
		}
	}
	return cfg, nil
}

// Validate reports every problem with cfg.
func (c Config) Validate() []error {
	var errs []error
	if c.Analysis.APIKey == "" {
		errs = append(errs, errors.New("missing required config: analysis API key. "+
			"Set it via environment variable DISHDEX_ANTHROPIC_API_KEY or `dishdex config set-secret analysis.api_key`"+apiKeyHint()))
	}
	if c.Analysis.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("analysis.max_tokens must be positive, got %d", c.Analysis.MaxTokens))
	}
	if c.Analysis.Temperature < 0 || c.Analysis.Temperature > 2 {
		errs = append(errs, fmt.Errorf("analysis.temperature must be between 0 and 2, got %g", c.Analysis.Temperature))
	}
	if c.Analysis.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("analysis.timeout must be positive, got %s", c.Analysis.Timeout))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must be set"))
	}
	retryOK := true
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > retry.MaxAttemptsLimit {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be between 1 and %d, got %d", retry.MaxAttemptsLimit, c.Retry.MaxAttempts))
		retryOK = false
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.BaseDelay > retry.MaxDelay {
		errs = append(errs, fmt.Errorf("retry.base_delay must be positive and at most %s, got %s", retry.MaxDelay, c.Retry.BaseDelay))
		retryOK = false
	}
	if c.Enrichment.Workers < 1 {
		errs = append(errs, fmt.Errorf("enrichment.workers must be at least 1, got %d", c.Enrichment.Workers))
	}
	if retryOK && c.Analysis.Timeout > 0 {
		policy := retry.Policy{MaxAttempts: c.Retry.MaxAttempts, BaseDelay: c.Retry.BaseDelay}
		if worst := policy.WorstCase(c.Analysis.Timeout); c.Enrichment.StaleAfter <= worst {
			errs = append(errs, fmt.Errorf("enrichment.stale_after must exceed the longest analysis (%s with current timeout and retries), got %s",
				worst, c.Enrichment.StaleAfter))
		}
	}
	if c.Profiles.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("profiles.batch_size must be positive, got %d", c.Profiles.BatchSize))
	}
	if _, err := cron.Parse(c.Profiles.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("profiles.schedule %q: %w", c.Profiles.Schedule, err))
	}
	if !locale.Supported(c.Locale) {
		errs = append(errs, fmt.Errorf("unsupported locale %q (supported: %v)", c.Locale, locale.Tags()))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	return errs
}
