package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoad_DefaultsWithToken(t *testing.T) {
	cfg, err := loadWith("", envMap(map[string]string{
		"FUNDLENS_API_TOKEN": "secret",
	}))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4400 {
		t.Errorf("Port = %d, want 4400", cfg.Server.Port)
	}
	if cfg.Ollama.EmbedDim != 768 {
		t.Errorf("EmbedDim = %d, want 768", cfg.Ollama.EmbedDim)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("TopK = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Extraction.Strategy != "deterministic" {
		t.Errorf("Strategy = %q, want deterministic", cfg.Extraction.Strategy)
	}
}

func TestLoad_MissingTokenFails(t *testing.T) {
	_, err := loadWith("", envMap(nil))
	if err == nil {
		t.Fatal("expected error for missing API token")
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
ollama:
  embed_dim: 384
  chat_timeout: 10s
retrieval:
  top_k: 7
api:
  token: from-file
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := loadWith(path, envMap(map[string]string{
		"FUNDLENS_TOP_K": "9",
	}))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000 (from file)", cfg.Server.Port)
	}
	if cfg.Ollama.EmbedDim != 384 {
		t.Errorf("EmbedDim = %d, want 384 (from file)", cfg.Ollama.EmbedDim)
	}
	if cfg.Ollama.ChatTimeout != 10*time.Second {
		t.Errorf("ChatTimeout = %v, want 10s", cfg.Ollama.ChatTimeout)
	}
	if cfg.Retrieval.TopK != 9 {
		t.Errorf("TopK = %d, want 9 (env overrides file)", cfg.Retrieval.TopK)
	}
	if cfg.API.Token != "from-file" {
		t.Errorf("Token = %q, want from-file", cfg.API.Token)
	}
}

func TestLoad_InvalidStrategy(t *testing.T) {
	_, err := loadWith("", envMap(map[string]string{
		"FUNDLENS_API_TOKEN":           "secret",
		"FUNDLENS_EXTRACTION_STRATEGY": "vibes",
	}))
	if err == nil {
		t.Fatal("expected error for unknown extraction strategy")
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := loadWith(filepath.Join(t.TempDir(), "nope.yaml"), envMap(map[string]string{
		"FUNDLENS_API_TOKEN": "secret",
	}))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.API.Token != "secret" {
		t.Errorf("Token = %q, want secret", cfg.API.Token)
	}
}
