// Package config provides YAML-based configuration for semdex.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. SEMDEX_CONFIG environment variable
//  3. ~/.semdex/config.yaml
//  4. ./semdex.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider chain.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Store selects and configures the collection store backend.
	Store StoreConfig `yaml:"store"`

	// Qdrant configures the Qdrant store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Ingest configures chunking, batching and file resolution.
	Ingest IngestConfig `yaml:"ingest"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the primary backend: local, ollama, openai, hash.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// BaseURL is the Ollama API endpoint.
	BaseURL string `yaml:"base_url"`
	// ModelsDir holds static models for the local provider.
	ModelsDir string `yaml:"models_dir"`
	// Dimensions is the hash fallback vector size.
	Dimensions int `yaml:"dimensions"`
	// Fallbacks lists intermediate providers tried before hash.
	Fallbacks []string `yaml:"fallbacks"`
	// Timeout bounds each remote call, as a Go duration string ("90s").
	Timeout string `yaml:"timeout"`
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the API endpoint for compatible servers.
	BaseURL string `yaml:"base_url"`
}

// StoreConfig holds collection store settings.
type StoreConfig struct {
	// Backend is sqlite (default) or qdrant.
	Backend string `yaml:"backend"`
	// Dir is the durable store directory for the sqlite backend.
	Dir string `yaml:"dir"`
	// Collection is the default collection name.
	Collection string `yaml:"collection"`
}

// QdrantConfig holds Qdrant store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	// ChunkSize is the window length in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the overlap between consecutive windows.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// BatchSize is the number of chunks embedded per provider call.
	BatchSize int `yaml:"batch_size"`
	// BaseDir anchors relative roots.
	BaseDir string `yaml:"base_dir"`
	// Patterns are the glob patterns matched inside directory roots.
	Patterns []string `yaml:"patterns"`
	// MaxFiles caps the number of files per run.
	MaxFiles int `yaml:"max_files"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var SEMDEX_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_BASE_URL", func(c *Config) string { return c.Embedding.BaseURL }},
	{"EMBEDDING_MODELS_DIR", func(c *Config) string { return c.Embedding.ModelsDir }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_FALLBACKS", func(c *Config) string { return listStr(c.Embedding.Fallbacks) }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Embedding.OpenAI.APIKey }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Embedding.OpenAI.BaseURL }},
	{"STORE_BACKEND", func(c *Config) string { return c.Store.Backend }},
	{"STORE_DIR", func(c *Config) string { return c.Store.Dir }},
	{"COLLECTION_NAME", func(c *Config) string { return c.Store.Collection }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Ingest.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Ingest.ChunkOverlap) }},
	{"BATCH_SIZE", func(c *Config) string { return intStr(c.Ingest.BatchSize) }},
	{"INGEST_BASE_DIR", func(c *Config) string { return c.Ingest.BaseDir }},
	{"INGEST_PATTERNS", func(c *Config) string { return listStr(c.Ingest.Patterns) }},
	{"INGEST_MAX_FILES", func(c *Config) string { return intStr(c.Ingest.MaxFiles) }},
	{"SEMDEX_HOST", func(c *Config) string { return c.Server.Host }},
	{"SEMDEX_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"SEMDEX_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("SEMDEX_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".semdex", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("semdex.yaml"); err == nil {
		return "semdex.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

// listStr joins non-empty items with commas.
func listStr(items []string) string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return strings.Join(out, ",")
}
