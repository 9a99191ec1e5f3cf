// Package config loads docchat settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names accepted for LLM_PROVIDER and EMBED_PROVIDER.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderGoogleAI  = "googleai"
)

// Store backends accepted for DOCCHAT_STORE.
const (
	StoreSurreal = "surreal"
	StoreMemory  = "memory"
)

// Config holds all configuration values.
type Config struct {
	// Conversation store
	Store              string
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Chat client
	UserID        string
	BackendURL    string
	AnswerTimeout time.Duration // 0 waits for the backend indefinitely
	NoticeTTL     time.Duration

	// Answering server
	ServerPort        string
	LLMProvider       string
	LLMModel          string
	LLMTemperature    float64
	EmbedProvider     string
	EmbedModel        string
	EmbedDimension    int
	OllamaHost        string
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	GoogleAPIKey      string
	AWSRegion         string
	IngestConcurrency int
	RetrievalK        int
	ChunkSize         int
	ChunkOverlap      int

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Store:              getEnv("DOCCHAT_STORE", StoreSurreal),
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "docchat"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "chat"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		UserID:        getEnv("DOCCHAT_USER", ""),
		BackendURL:    getEnv("DOCCHAT_BACKEND_URL", "http://127.0.0.1:8000"),
		AnswerTimeout: getDuration("DOCCHAT_ANSWER_TIMEOUT", 0),
		NoticeTTL:     getDuration("DOCCHAT_NOTICE_TTL", 5*time.Second),

		ServerPort:        getEnv("DOCCHAT_SERVER_PORT", "8000"),
		LLMProvider:       getEnv("LLM_PROVIDER", ProviderOllama),
		LLMModel:          getEnv("LLM_MODEL", "llama3.2"),
		LLMTemperature:    getFloat("LLM_TEMPERATURE", 0.7),
		EmbedProvider:     getEnv("EMBED_PROVIDER", ProviderOllama),
		EmbedModel:        getEnv("EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension:    getInt("EMBED_DIMENSION", 384),
		OllamaHost:        getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:      getEnv("GOOGLE_API_KEY", ""),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		IngestConcurrency: getInt("DOCCHAT_INGEST_CONCURRENCY", 2),
		RetrievalK:        getInt("DOCCHAT_RETRIEVAL_K", 7),
		ChunkSize:         getInt("DOCCHAT_CHUNK_SIZE", 1000),
		ChunkOverlap:      getInt("DOCCHAT_CHUNK_OVERLAP", 100),

		LogFile:  getEnv("DOCCHAT_LOG_FILE", "/tmp/docchat.log"),
		LogLevel: parseLogLevel(getEnv("DOCCHAT_LOG_LEVEL", "INFO")),
	}
}

// ValidateServer reports every setting the answering server cannot start without.
func (c Config) ValidateServer() error {
	var errs []error
	for _, p := range []struct{ kind, provider string }{{"LLM", c.LLMProvider}, {"embedding", c.EmbedProvider}} {
		switch p.provider {
		case ProviderOpenAI:
			if c.OpenAIAPIKey == "" {
				errs = append(errs, fmt.Errorf("%s provider openai: OPENAI_API_KEY is required", p.kind))
			}
		case ProviderAnthropic:
			if c.AnthropicAPIKey == "" {
				errs = append(errs, fmt.Errorf("%s provider anthropic: ANTHROPIC_API_KEY is required", p.kind))
			}
		case ProviderGoogleAI:
			if c.GoogleAPIKey == "" {
				errs = append(errs, fmt.Errorf("%s provider googleai: GOOGLE_API_KEY is required", p.kind))
			}
		case ProviderOllama, ProviderBedrock:
		default:
			errs = append(errs, fmt.Errorf("unsupported %s provider: %s", p.kind, p.provider))
		}
	}
	if c.EmbedProvider == ProviderAnthropic {
		errs = append(errs, errors.New("embedding provider anthropic: no embedding models available"))
	}
	if c.EmbedDimension <= 0 {
		errs = append(errs, errors.New("EMBED_DIMENSION must be positive"))
	}
	if c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, errors.New("DOCCHAT_CHUNK_OVERLAP must be smaller than DOCCHAT_CHUNK_SIZE"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
