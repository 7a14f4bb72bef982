package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const secretsFileName = "secrets.yaml"

// secretsFile keeps secrets in a 0600 YAML file inside the data directory,
// keyed by config key.
type secretsFile struct{}

func (secretsFile) path(dataDir string) string {
	return filepath.Join(dataDir, secretsFileName)
}

func (f secretsFile) read(dataDir string) (map[string]string, error) {
	data, err := os.ReadFile(f.path(dataDir))
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f secretsFile) Get(dataDir, account string) (string, error) {
	secrets, err := f.read(dataDir)
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	val, ok := secrets[account]
	if !ok {
		return "", fmt.Errorf("secret %q not found", account)
	}
	return val, nil
}

func (f secretsFile) Set(dataDir, account, value string) error {
	secrets, err := f.read(dataDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[account] = value

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := yaml.Marshal(secrets)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(dataDir), out, 0o600)
}
