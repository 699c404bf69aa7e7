package config

import (
	"os"
	"path/filepath"
)

const appName = "agrisensed"

// ConfigBackend stores the non-secret settings. macOS keeps them in
// UserDefaults; everything else uses a JSON file under XDG_CONFIG_HOME.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// SecretStore holds the provider API keys, which never go through the
// ConfigBackend. account is the key name without its section, e.g.
// "gemini_api_key".
type SecretStore interface {
	Secret(account string) (string, error)
}

// appDirs locates the daemon's files on this platform. Config and Secrets
// are empty where the platform keeps them outside the filesystem.
type appDirs struct {
	Config  string
	Data    string
	Secrets string
}

func defaultDataDir() string { return platformDirs().Data }

// xdgDir returns $env/agrisensed, or ~/<fallback...>/agrisensed when env is
// unset.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appName + "-data"
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...)
}
