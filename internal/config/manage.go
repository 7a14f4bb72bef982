package config

import (
	"fmt"
	"strconv"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are reported as set or unset, never by value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			if v == "" {
				v = "(unset)"
			} else {
				v = "(set)"
			}
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: v})
	}
	return result
}

// Show resolves the current configuration without validating it.
func Show() (Config, error) {
	return Resolve(newFileBackend(configFilePath()), secretsFile{})
}

// SetKey writes a config key to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use `dishdex config set-secret %s` or environment variable %s", key, key, s.env)
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	switch s.typ {
	case kInt:
		return b.SetInt(key, v.(int))
	case kDuration:
		return b.SetString(key, v.(time.Duration).String())
	case kBool:
		return b.SetString(key, strconv.FormatBool(v.(bool)))
	}
	return b.SetString(key, value)
}

// SetSecret stores a secret in the secrets file of the configured data dir.
func SetSecret(key, value string) error {
	b := newFileBackend(configFilePath())
	cfg, err := Resolve(b, nil)
	if err != nil {
		return err
	}
	return setSecret(secretsFile{}, cfg.Storage.DataDir, key, value)
}

type secretWriter interface {
	Set(dataDir, account, value string) error
}

func setSecret(w secretWriter, dataDir, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok || !s.secret {
		return fmt.Errorf("unknown secret: %q (valid: %v)", key, SecretKeys())
	}
	if value == "" {
		return fmt.Errorf("empty value for secret %s", key)
	}
	return w.Set(dataDir, key, value)
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// SecretKeys returns the keys that can only be set with SetSecret.
func SecretKeys() []string {
	var keys []string
	for _, s := range specs {
		if s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
