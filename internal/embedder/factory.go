package embedder

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when neither config nor environment sets a value.
const (
	defaultProvider = KindLocal
	defaultBaseURL  = "http://localhost:11434"
	defaultTimeout  = 60 * time.Second
)

// Config is the plain value object a Chain is built from.
type Config struct {
	// Provider is the primary provider name (local, ollama, openai, hash).
	// Unknown names are kept as-is and fail over at call time.
	Provider string
	// Model is the primary provider's model. Empty selects the provider's default.
	Model string
	// BaseURL is the Ollama server base URL.
	BaseURL string
	// ModelsDir is the directory holding local {model}.vec files.
	ModelsDir string
	// Dimensions is the hash fallback vector length. 0 selects 256.
	Dimensions int
	// Fallbacks are intermediate providers tried after the primary and
	// before the hash fallback.
	Fallbacks []string
	// Timeout bounds each remote HTTP call.
	Timeout time.Duration
	// OpenAIAPIKey authenticates the openai provider.
	OpenAIAPIKey string
	// OpenAIBaseURL overrides the OpenAI API base.
	OpenAIBaseURL string
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = string(defaultProvider)
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir()
	}
	if c.Dimensions == 0 {
		c.Dimensions = DefaultHashDimensions
	}
	if c.Timeout < defaultTimeout {
		c.Timeout = defaultTimeout
	}
	return c
}

// DefaultModelsDir returns ~/.semdex/models, or .semdex/models when the
// home directory cannot be resolved.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".semdex", "models")
	}
	return filepath.Join(home, ".semdex", "models")
}

// ConfigFromEnv builds a Config from environment variables:
//
//	EMBEDDING_PROVIDER    primary provider (default: local)
//	EMBEDDING_MODEL       primary model (default: per provider)
//	EMBEDDING_BASE_URL    Ollama base URL (default: http://localhost:11434)
//	EMBEDDING_MODELS_DIR  local model directory (default: ~/.semdex/models)
//	EMBEDDING_DIMENSIONS  hash fallback dimensions (default: 256)
//	EMBEDDING_FALLBACKS   comma list of intermediate providers
//	EMBEDDING_TIMEOUT     per-request timeout, Go duration (minimum 60s)
//	OPENAI_API_KEY        OpenAI key
//	OPENAI_BASE_URL       OpenAI-compatible API base
func ConfigFromEnv() Config {
	cfg := Config{
		Provider:      getEnvOrDefault("EMBEDDING_PROVIDER", string(defaultProvider)),
		Model:         getEnv("EMBEDDING_MODEL"),
		BaseURL:       getEnvOrDefault("EMBEDDING_BASE_URL", defaultBaseURL),
		ModelsDir:     getEnvOrDefault("EMBEDDING_MODELS_DIR", DefaultModelsDir()),
		Dimensions:    getEnvInt("EMBEDDING_DIMENSIONS", DefaultHashDimensions),
		Fallbacks:     SplitList(getEnv("EMBEDDING_FALLBACKS")),
		Timeout:       defaultTimeout,
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL"),
	}
	if v := getEnv("EMBEDDING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	return cfg.withDefaults()
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
