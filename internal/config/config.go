// Package config loads settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bull/pdf-rag/internal/chunker"
	"github.com/bull/pdf-rag/internal/ragerr"
	"github.com/bull/pdf-rag/internal/storage"
)

// Vector store backends.
const (
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
	BackendSQLite   = "sqlite"
)

// Embedding backends.
const (
	EmbedLocal  = "local"
	EmbedOpenAI = "openai"
)

// Answer policies.
const (
	PolicyExtractive = "extractive"
	PolicyGenerative = "generative"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Vector store
	VectorBackend string
	QdrantHost    string
	QdrantPort    int
	QdrantAPIKey  string
	QdrantTLS     bool
	DatabaseURL   string
	SQLitePath    string
	Collection    string

	// Embeddings
	EmbedBackend     string
	OllamaURL        string
	OllamaEmbedModel string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIEmbedModel string
	EmbedDimension   int // 0 selects the backend default
	EmbedBatchSize   int

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Query
	TopK            int
	AnswerMaxLength int
	AnswerPolicy    string
	ChatModel       string

	// Workflow
	JournalPath     string // empty keeps the journal in memory
	StepMaxAttempts int

	// Server
	Port       string
	ServerMode bool

	// GitHub sync
	GitHubToken string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		VectorBackend: envOrDefault("VECTOR_BACKEND", BackendQdrant),
		QdrantHost:    envOrDefault("QDRANT_HOST", "localhost"),
		QdrantPort:    envOrDefaultInt("QDRANT_PORT", 6334),
		QdrantAPIKey:  os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:     envOrDefaultBool("QDRANT_TLS", false),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    envOrDefault("SQLITE_PATH", "rag.db"),
		Collection:    envOrDefault("COLLECTION", storage.DefaultCollection),

		EmbedBackend:     envOrDefault("EMBED_BACKEND", EmbedLocal),
		OllamaURL:        envOrDefault("OLLAMA_URL", "http://localhost:11434"),
		OllamaEmbedModel: envOrDefault("OLLAMA_EMBED_MODEL", "all-minilm"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		OpenAIEmbedModel: envOrDefault("OPENAI_EMBED_MODEL", "text-embedding-3-large"),
		EmbedDimension:   envOrDefaultInt("EMBED_DIMENSION", 0),
		EmbedBatchSize:   envOrDefaultInt("EMBED_BATCH_SIZE", 500),

		ChunkSize:    envOrDefaultInt("CHUNK_SIZE", chunker.DefaultSize),
		ChunkOverlap: envOrDefaultInt("CHUNK_OVERLAP", chunker.DefaultOverlap),

		TopK:            envOrDefaultInt("TOP_K", 5),
		AnswerMaxLength: envOrDefaultInt("ANSWER_MAX_LENGTH", 1024),
		AnswerPolicy:    envOrDefault("ANSWER_POLICY", PolicyExtractive),
		ChatModel:       envOrDefault("CHAT_MODEL", "gpt-4o"),

		JournalPath:     os.Getenv("JOURNAL_PATH"),
		StepMaxAttempts: envOrDefaultInt("STEP_MAX_ATTEMPTS", 3),

		Port:       envOrDefault("PORT", "8080"),
		ServerMode: envOrDefaultBool("SERVER_MODE", false),

		GitHubToken: os.Getenv("GITHUB_TOKEN"),
	}
}

// Dimension returns the embedding dimension: EmbedDimension when set,
// otherwise the default of the selected backend.
func (c *Config) Dimension() int {
	if c.EmbedDimension > 0 {
		return c.EmbedDimension
	}
	if c.EmbedBackend == EmbedOpenAI {
		return 3072
	}
	return 384
}

// Validate rejects inconsistent settings before any backend is contacted.
func (c *Config) Validate() error {
	switch c.VectorBackend {
	case BackendQdrant, BackendSQLite:
	case BackendPGVector:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the pgvector backend", ragerr.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown VECTOR_BACKEND %q", ragerr.ErrValidation, c.VectorBackend)
	}

	switch c.EmbedBackend {
	case EmbedLocal:
	case EmbedOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for the openai embedding backend", ragerr.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown EMBED_BACKEND %q", ragerr.ErrValidation, c.EmbedBackend)
	}

	switch c.AnswerPolicy {
	case PolicyExtractive:
	case PolicyGenerative:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for the generative answer policy", ragerr.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown ANSWER_POLICY %q", ragerr.ErrValidation, c.AnswerPolicy)
	}

	if c.Collection == "" {
		return fmt.Errorf("%w: COLLECTION must not be empty", ragerr.ErrValidation)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP (%d) must be in [0, CHUNK_SIZE=%d)", ragerr.ErrValidation, c.ChunkOverlap, c.ChunkSize)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: TOP_K must be positive", ragerr.ErrValidation)
	}
	if c.StepMaxAttempts <= 0 {
		return fmt.Errorf("%w: STEP_MAX_ATTEMPTS must be positive", ragerr.ErrValidation)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}
