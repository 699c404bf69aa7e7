package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AGRISENSE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "AGRISENSE_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AGRISENSE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "AGRISENSE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "providers.chain", typ: kList, env: "AGRISENSE_PROVIDERS_CHAIN",
		apply:   func(cfg *Config, v any) { cfg.Providers.Chain = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Providers.Chain, ",") },
	},
	{
		key: "providers.max_rounds", typ: kInt, env: "AGRISENSE_PROVIDERS_MAX_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Providers.MaxRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Providers.MaxRounds },
	},
	{
		key: "providers.base_delay", typ: kDuration, env: "AGRISENSE_PROVIDERS_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Providers.BaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Providers.BaseDelay },
	},
	{
		key: "providers.timeout", typ: kDuration, env: "AGRISENSE_PROVIDERS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Providers.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Providers.Timeout },
	},
	{
		key: "providers.rate_per_minute", typ: kInt, env: "AGRISENSE_PROVIDERS_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Providers.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Providers.RatePerMinute },
	},
	{
		key: "providers.probe_url", typ: kString, env: "AGRISENSE_PROVIDERS_PROBE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.ProbeURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.ProbeURL },
	},
	{
		key: "providers.gemini_api_key", typ: kString, env: "AGRISENSE_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GeminiAPIKey },
	},
	{
		key: "providers.openrouter_api_key", typ: kString, env: "AGRISENSE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenRouterAPIKey },
	},
	{
		key: "providers.openrouter_model", typ: kString, env: "AGRISENSE_PROVIDERS_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenRouterModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenRouterModel },
	},
	{
		key: "providers.ollama_base_url", typ: kString, env: "AGRISENSE_PROVIDERS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OllamaBaseURL },
	},
	{
		key: "providers.ollama_model", typ: kString, env: "AGRISENSE_PROVIDERS_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OllamaModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OllamaModel },
	},
	{
		key: "edge.origin_url", typ: kString, env: "AGRISENSE_EDGE_ORIGIN_URL",
		apply:   func(cfg *Config, v any) { cfg.Edge.OriginURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Edge.OriginURL },
	},
	{
		key: "edge.manifest", typ: kList, env: "AGRISENSE_EDGE_MANIFEST",
		apply:   func(cfg *Config, v any) { cfg.Edge.Manifest = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Edge.Manifest, ",") },
	},
	{
		key: "edge.manifest_file", typ: kString, env: "AGRISENSE_EDGE_MANIFEST_FILE",
		apply:   func(cfg *Config, v any) { cfg.Edge.ManifestFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Edge.ManifestFile },
	},
	{
		key: "edge.periodic_interval", typ: kDuration, env: "AGRISENSE_EDGE_PERIODIC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Edge.PeriodicInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Edge.PeriodicInterval },
	},
	{
		key: "edge.install_concurrency", typ: kInt, env: "AGRISENSE_EDGE_INSTALL_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Edge.InstallConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Edge.InstallConcurrency },
	},
	{
		key: "notify.permission", typ: kString, env: "AGRISENSE_NOTIFY_PERMISSION",
		apply:   func(cfg *Config, v any) { cfg.Notify.Permission = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.Permission },
	},
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kList:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				s.apply(cfg, splitList(v))
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kList:
			s.apply(cfg, splitList(raw))
		}
	}
}

// applySecrets fills secret keys still unset after env from the platform
// secret store. A missing secret leaves the key empty.
func applySecrets(cfg *Config, secrets SecretStore) {
	if secrets == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		_, account, _ := strings.Cut(s.key, ".")
		v, err := secrets.Secret(account)
		if err != nil {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			s.apply(cfg, v)
		}
	}
}
