//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

func platformDirs() appDirs {
	data := xdgDir("XDG_DATA_HOME", ".local", "share")
	return appDirs{
		Config:  filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json"),
		Data:    data,
		Secrets: filepath.Join(data, "secrets.json"),
	}
}

func newPlatformBackend() ConfigBackend {
	return openFileBackend(platformDirs().Config)
}

func newPlatformSecrets() SecretStore {
	return secretsFile{path: platformDirs().Secrets}
}

// fileBackend keeps settings as a flat JSON object keyed by setting name,
// e.g. {"server.port": 4100, "edge.origin_url": "http://localhost:3000"}.
type fileBackend struct {
	path string
	data map[string]any
}

// openFileBackend reads path. An unreadable or malformed file is logged and
// the defaults stay in effect; the next write replaces it.
func openFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
	default:
		if err := json.Unmarshal(raw, &b.data); err != nil {
			slog.Warn("config file malformed, using defaults", "path", path, "error", err)
			b.data = make(map[string]any)
		}
	}
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || val < math.MinInt || val > math.MaxInt {
			return 0, true, fmt.Errorf("%s: %v is not an integer", key, val)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	}
	return 0, true, fmt.Errorf("%s: unexpected %T", key, v)
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

func (b *fileBackend) Delete(key string) error {
	delete(b.data, key)
	return b.flush()
}

func (b *fileBackend) set(key string, v any) error {
	b.data[key] = v
	return b.flush()
}

func (b *fileBackend) flush() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, raw, 0o600)
}

// secretsFile stands in for the platform keychain outside macOS: a 0600
// JSON object such as {"gemini_api_key": "..."}.
type secretsFile struct {
	path string
}

func (s secretsFile) Secret(account string) (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("reading secrets: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return "", fmt.Errorf("parsing %s: %w", s.path, err)
	}
	v, ok := secrets[account]
	if !ok {
		return "", fmt.Errorf("%s not set in %s", account, s.path)
	}
	return v, nil
}
