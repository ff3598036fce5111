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

// ShowAll returns all non-secret config key/value pairs from cfg.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey validates value against key's type and persists it. Secrets go to
// the secrets file, everything else to config.yaml.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), newSecretsFile(secretsFilePath()), key, value)
}

type secretWriter interface {
	Set(key, value string) error
}

func setKey(b ConfigBackend, secrets secretWriter, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return secrets.Set(key, value)
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		case kBool:
			if _, err := strconv.ParseBool(value); err != nil {
				return fmt.Errorf("invalid bool value for %s: %w", key, err)
			}
		case kFloat:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return fmt.Errorf("invalid float value for %s: %w", key, err)
			}
		case kDuration:
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration value for %s: %w", key, err)
			}
		}
		return b.SetString(key, value)
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns every config key name, secrets included.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
