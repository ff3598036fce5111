package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// secretsFile reads secrets from a flat YAML mapping of config key to value,
// kept apart from config.yaml so that file can be shared:
//
//	engine.api_key: sk-...
//	server.token: s3cret
type secretsFile struct {
	path string
}

func newSecretsFile(path string) secretsFile {
	return secretsFile{path: path}
}

func (f secretsFile) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f secretsFile) Get(key string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	val, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return val, nil
}

func (f secretsFile) Set(key, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[key] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := yaml.Marshal(secrets)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
