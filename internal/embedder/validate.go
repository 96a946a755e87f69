package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/semdex-go/internal/rag"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If the configured model matches
// any of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check on cfg. It returns an error wrapping
// rag.ErrConfiguration when the configuration is clearly broken (openai
// selected with no API key, negative hash dimensions) and logs a warning for
// names the chain will skip over at call time, or for a model that looks like
// a chat model.
//
// Call it before the first ingest or query so operators get a clear message
// at startup rather than a silent downgrade to the hash fallback.
func Validate(cfg Config, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Dimensions < 0 {
		return fmt.Errorf("embedder: %w: EMBEDDING_DIMENSIONS must be positive, got %d", rag.ErrConfiguration, cfg.Dimensions)
	}

	names := append([]string{cfg.Provider}, cfg.Fallbacks...)
	for i, name := range names {
		if name == "" {
			continue
		}
		kind, err := ParseKind(name)
		if err != nil {
			log.Warn("embedder: unknown provider will always fall back",
				slog.String("provider", name),
				slog.String("hint", "valid values: local, ollama, openai, hash"),
			)
			continue
		}
		if kind == KindOpenAI && cfg.OpenAIAPIKey == "" {
			if i == 0 {
				return fmt.Errorf("embedder: %w: EMBEDDING_PROVIDER=openai but OPENAI_API_KEY is not set", rag.ErrConfiguration)
			}
			log.Warn("embedder: openai fallback has no OPENAI_API_KEY and will be skipped")
		}
	}

	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}
	return nil
}
