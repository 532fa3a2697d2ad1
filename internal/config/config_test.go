package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Port)
	}
	if cfg.CacheTTL() != 30*time.Second {
		t.Errorf("cache ttl = %s, want 30s", cfg.CacheTTL())
	}
	if cfg.Quote.RPS != 10 || cfg.Quote.Burst != 5 {
		t.Errorf("quote limits = %v/%v", cfg.Quote.RPS, cfg.Quote.Burst)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
port: "9090"
database_url: postgres://localhost/test
cache:
  ttl_seconds: 60
quote:
  base_url: http://quotes.internal
  api_key: key1:key2
  rps: 2
  burst: 1
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://localhost/test" {
		t.Errorf("database_url = %q", cfg.DatabaseURL)
	}
	if cfg.CacheTTL() != time.Minute {
		t.Errorf("cache ttl = %s", cfg.CacheTTL())
	}
	keys := cfg.QuoteKeys()
	if len(keys) != 2 || keys[0] != "key1" || keys[1] != "key2" {
		t.Errorf("quote keys = %v", keys)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: \"9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("QUOTE_API_KEY", "envkey")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "7070" {
		t.Errorf("port = %q, want env override 7070", cfg.Port)
	}
	if keys := cfg.QuoteKeys(); len(keys) != 1 || keys[0] != "envkey" {
		t.Errorf("quote keys = %v", keys)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load("/does/not/exist.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
}

func TestQuoteKeys_Empty(t *testing.T) {
	var cfg Config
	if keys := cfg.QuoteKeys(); len(keys) != 0 {
		t.Errorf("keys = %v, want none", keys)
	}
}
