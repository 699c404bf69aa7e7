package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Providers ProvidersConfig
	Edge      EdgeConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ProvidersConfig struct {
	// Chain lists candidate kinds in priority order, each optionally
	// followed by ":model" (gemini, openrouter, ollama).
	Chain            []string
	MaxRounds        int
	BaseDelay        time.Duration
	Timeout          time.Duration
	RatePerMinute    int
	ProbeURL         string
	GeminiAPIKey     string
	OpenRouterAPIKey string
	OpenRouterModel  string
	OllamaBaseURL    string
	OllamaModel      string
}

type EdgeConfig struct {
	OriginURL          string
	Manifest           []string
	ManifestFile       string
	PeriodicInterval   time.Duration
	InstallConcurrency int
}

type NotifyConfig struct {
	Permission string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Providers: ProvidersConfig{
			Chain:           []string{"gemini", "openrouter", "ollama"},
			MaxRounds:       3,
			BaseDelay:       2 * time.Second,
			Timeout:         30 * time.Second,
			RatePerMinute:   15,
			ProbeURL:        "https://generativelanguage.googleapis.com",
			OpenRouterModel: "google/gemini-2.5-flash",
			OllamaBaseURL:   "http://localhost:11434",
			OllamaModel:     "llama3.2",
		},
		Edge: EdgeConfig{
			OriginURL:          "http://localhost:3000",
			Manifest:           []string{"/", "/diagnosis", "/advisor", "/prices", "/journal", "/offline"},
			PeriodicInterval:   6 * time.Hour,
			InstallConcurrency: 4,
		},
		Notify: NotifyConfig{
			Permission: "default",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.agrisense.agrisensed)
// and secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/agrisensed/config.json and secrets fall back to
// $XDG_DATA_HOME/agrisensed/secrets.json.
//
// Environment variables (AGRISENSE_*) override backend values on all
// platforms. Missing API keys are not an error: the provider chain leaves
// those candidates out and offline answers remain available.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), newPlatformSecrets())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The Gemini SDK's own variable names are honoured too.
	if cfg.Providers.GeminiAPIKey == "" {
		cfg.Providers.GeminiAPIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}
	applySecrets(&cfg, secrets)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// Validate rejects values the daemon cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Providers.MaxRounds <= 0 {
		return fmt.Errorf("providers.max_rounds must be positive, got %d", c.Providers.MaxRounds)
	}
	if c.Providers.BaseDelay < 0 {
		return fmt.Errorf("providers.base_delay must not be negative")
	}
	if _, err := ParseChain(c.Providers.Chain); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// ChainEntry is one parsed element of providers.chain.
type ChainEntry struct {
	Kind  string
	Model string
}

// ParseChain splits "kind[:model]" entries. Kinds are gemini, openrouter
// and ollama.
func ParseChain(entries []string) ([]ChainEntry, error) {
	out := make([]ChainEntry, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		kind, model, _ := strings.Cut(e, ":")
		kind = strings.ToLower(kind)
		switch kind {
		case "gemini", "openrouter", "ollama":
		default:
			return nil, fmt.Errorf("providers.chain: unknown provider kind %q", kind)
		}
		out = append(out, ChainEntry{Kind: kind, Model: model})
	}
	return out, nil
}
