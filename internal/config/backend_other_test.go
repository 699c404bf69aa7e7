//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"gemini_api_key":" k1 "}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s := secretsFile{path: path}

	got, err := s.Secret("gemini_api_key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != " k1 " {
		t.Errorf("secret = %q, want the raw value", got)
	}
	if _, err := s.Secret("openrouter_api_key"); err == nil {
		t.Error("expected missing account error")
	}
	if _, err := (secretsFile{path: filepath.Join(t.TempDir(), "none.json")}).Secret("gemini_api_key"); err == nil {
		t.Error("expected missing file error")
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agrisensed", "config.json")
	b := openFileBackend(path)

	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("edge.origin_url", "http://farm.local"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	reopened := openFileBackend(path)
	if port, ok, err := reopened.GetInt("server.port"); err != nil || !ok || port != 4200 {
		t.Errorf("server.port = %d, %v, %v", port, ok, err)
	}
	if origin, ok, _ := reopened.GetString("edge.origin_url"); !ok || origin != "http://farm.local" {
		t.Errorf("edge.origin_url = %q, %v", origin, ok)
	}

	if err := reopened.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := openFileBackend(path).GetInt("server.port"); ok {
		t.Error("server.port still present after Delete")
	}
}

func TestFileBackend_MalformedFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server.port": 4.5`), 0o600); err != nil {
		t.Fatal(err)
	}
	b := openFileBackend(path)
	if _, ok, _ := b.GetInt("server.port"); ok {
		t.Error("malformed file should yield no values")
	}

	if err := os.WriteFile(path, []byte(`{"server.port": 4.5}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := openFileBackend(path).GetInt("server.port"); !ok || err == nil {
		t.Errorf("fractional port: ok=%v err=%v, want an error", ok, err)
	}
}

func TestPlatformDirs_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	d := platformDirs()
	if d.Config != filepath.Join("/cfg", "agrisensed", "config.json") {
		t.Errorf("Config = %s", d.Config)
	}
	if d.Data != filepath.Join("/data", "agrisensed") {
		t.Errorf("Data = %s", d.Data)
	}
	if d.Secrets != filepath.Join("/data", "agrisensed", "secrets.json") {
		t.Errorf("Secrets = %s", d.Secrets)
	}
}
