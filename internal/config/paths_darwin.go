//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "dishdex")
	}
	return "dishdex-data"
}

func apiKeyHint() string {
	return " (stored in ~/Library/Application Support/dishdex/secrets.yaml)"
}
