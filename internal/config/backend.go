package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigBackend abstracts where persistent settings live. Keys are dotted
// paths such as "server.port".
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// fileBackend stores config as nested YAML mappings, one level per dotted
// key segment:
//
//	server:
//	  port: 8000
//	engine:
//	  provider: ollama
type fileBackend struct {
	path string
	data map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	b.load()
	return b
}

func (b *fileBackend) load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		}
		return
	}
	if err := yaml.Unmarshal(data, &b.data); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", b.path, err)
	}
	if b.data == nil {
		b.data = make(map[string]any)
	}
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(b.data)
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o600)
}

func (b *fileBackend) lookup(key string) (any, bool) {
	var cur any = b.data
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// parent returns the mapping holding key's last segment, creating
// intermediate mappings when create is set.
func (b *fileBackend) parent(key string, create bool) (map[string]any, string) {
	parts := strings.Split(key, ".")
	m := b.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			if !create {
				return nil, ""
			}
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
	return m, parts[len(parts)-1]
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok || v == nil {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case map[string]any, []any:
		return "", true, fmt.Errorf("%s is not a scalar", key)
	default:
		return fmt.Sprintf("%v", val), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	if !ok || v == nil {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int:
		return val, true, nil
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	m, leaf := b.parent(key, true)
	m[leaf] = val
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	m, leaf := b.parent(key, true)
	m[leaf] = val
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	m, leaf := b.parent(key, false)
	if m == nil {
		return nil
	}
	delete(m, leaf)
	return b.save()
}
