package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Storage    StorageConfig    `yaml:"storage"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Extraction ExtractionConfig `yaml:"extraction"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type OllamaConfig struct {
	BaseURL    string `yaml:"base_url"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
	// EmbedDim is the fixed embedding dimension for the deployment.
	// Vectors of any other length are rejected at insert and query time.
	EmbedDim int `yaml:"embed_dim"`
	// ChatTimeout and EmbedTimeout bound individual engine calls so a hung
	// backend fails the request instead of stalling it indefinitely.
	ChatTimeout  time.Duration `yaml:"chat_timeout"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

type ExtractionConfig struct {
	// Strategy selects the transaction extraction path:
	// "deterministic" (column-keyword classification) or "model"
	// (schema-constrained LLM extraction).
	Strategy string `yaml:"strategy"`
}

type APIConfig struct {
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			ChatModel:    "mistral-nemo",
			EmbedModel:   "nomic-embed-text",
			EmbedDim:     768,
			ChatTimeout:  60 * time.Second,
			EmbedTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:           3,
			ScoreThreshold: 0.35,
		},
		Extraction: ExtractionConfig{
			Strategy: "deterministic",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML config file and applies FUNDLENS_*
// environment overrides on top. The file path is FUNDLENS_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/fundlens/config.yaml. A missing file is not an
// error; defaults plus env apply.
func Load() (Config, error) {
	return loadWith(configFilePath(), os.Getenv)
}

func loadWith(path string, getenv func(string) string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg, getenv)

	if cfg.API.Token == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set api.token in the config file or the FUNDLENS_API_TOKEN environment variable")
	}
	if cfg.Ollama.EmbedDim <= 0 {
		return Config{}, fmt.Errorf("invalid config: ollama.embed_dim must be positive, got %d", cfg.Ollama.EmbedDim)
	}
	switch cfg.Extraction.Strategy {
	case "deterministic", "model":
	default:
		return Config{}, fmt.Errorf("invalid config: extraction.strategy must be %q or %q, got %q", "deterministic", "model", cfg.Extraction.Strategy)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("FUNDLENS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := getenv("FUNDLENS_OLLAMA_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := getenv("FUNDLENS_CHAT_MODEL"); v != "" {
		cfg.Ollama.ChatModel = v
	}
	if v := getenv("FUNDLENS_EMBED_MODEL"); v != "" {
		cfg.Ollama.EmbedModel = v
	}
	if v := getenv("FUNDLENS_EMBED_DIM"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			cfg.Ollama.EmbedDim = dim
		}
	}
	if v := getenv("FUNDLENS_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("FUNDLENS_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			cfg.Retrieval.TopK = k
		}
	}
	if v := getenv("FUNDLENS_SCORE_THRESHOLD"); v != "" {
		if th, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.ScoreThreshold = th
		}
	}
	if v := getenv("FUNDLENS_EXTRACTION_STRATEGY"); v != "" {
		cfg.Extraction.Strategy = v
	}
	if v := getenv("FUNDLENS_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := getenv("FUNDLENS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func configFilePath() string {
	if p := os.Getenv("FUNDLENS_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "fundlens", "config.yaml")
}

func defaultDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "./data"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "fundlens")
}
