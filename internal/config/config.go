// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NATS       NATSConfig
	Storage    StorageConfig
	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Chunker    ChunkerConfig
	Upload     UploadConfig
	Guardrails GuardrailsConfig
	Chat       ChatConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	Environment     string
	ShutdownTimeout int
	RequestTimeout  int
	AllowedOrigins  []string
	RateLimitRPS    float64
	RateLimitBurst  int
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL        string
	StreamName string
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider          string
	AnthropicKey      string
	OpenAIKey         string
	Model             string
	MaxTokens         int
	OllamaBaseURL     string
	LMStudioBaseURL   string
	EnableToolCalling bool
	Temperature       float64
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Model      string
	Dimensions int
	BatchSize  int
	RateLimit  float64
	CacheTTL   int
}

// ChunkerConfig holds document chunking configuration.
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// UploadConfig holds document upload configuration.
type UploadConfig struct {
	AllowedExtensions []string
	MaxFileSize       int64
}

// GuardrailsConfig holds content guardrails configuration.
type GuardrailsConfig struct {
	Enabled      bool
	SnippetLimit int
	CacheTTL     int
}

// ChatConfig holds chat behavior configuration.
type ChatConfig struct {
	HistoryLimit    int
	MaxToolCalls    int
	RetrievalTopK   int
	WebSearchCap    int
	ToolHTTPTimeout int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8080),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvAsInt("SHUTDOWN_TIMEOUT", 30),
			RequestTimeout:  getEnvAsInt("REQUEST_TIMEOUT", 60),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:    getEnvAsFloat("RATE_LIMIT_RPS", 10),
			RateLimitBurst:  getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "aegis"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName: getEnv("NATS_STREAM", "AEGIS"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
			BucketName:      getEnv("STORAGE_BUCKET", "aegis-documents"),
			UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
		},
		LLM: LLMConfig{
			Provider:          getEnv("LLM_PROVIDER", "openai"),
			AnthropicKey:      getEnv("ANTHROPIC_API_KEY", ""),
			OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:             getEnv("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 4096),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
			LMStudioBaseURL:   getEnv("LMSTUDIO_BASE_URL", "http://localhost:1234/v1"),
			EnableToolCalling: getEnvAsBool("LLM_ENABLE_TOOL_CALLING", true),
			Temperature:       getEnvAsFloat("LLM_TEMPERATURE", 0.3),
		},
		Embedding: EmbeddingConfig{
			Model:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 1536),
			BatchSize:  getEnvAsInt("EMBEDDING_BATCH_SIZE", 64),
			RateLimit:  getEnvAsFloat("EMBEDDING_RATE_LIMIT", 10),
			CacheTTL:   getEnvAsInt("EMBEDDING_CACHE_TTL", 86400),
		},
		Chunker: ChunkerConfig{
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 200),
		},
		Upload: UploadConfig{
			AllowedExtensions: getEnvAsSlice("UPLOAD_ALLOWED_EXTENSIONS", []string{"pdf", "txt", "docx", "doc", "md"}),
			MaxFileSize:       int64(getEnvAsInt("UPLOAD_MAX_FILE_SIZE", 16*1024*1024)),
		},
		Guardrails: GuardrailsConfig{
			Enabled:      getEnvAsBool("GUARDRAILS_ENABLED", true),
			SnippetLimit: getEnvAsInt("GUARDRAILS_SNIPPET_LIMIT", 200),
			CacheTTL:     getEnvAsInt("GUARDRAILS_CACHE_TTL", 60),
		},
		Chat: ChatConfig{
			HistoryLimit:    getEnvAsInt("CHAT_HISTORY_LIMIT", 50),
			MaxToolCalls:    getEnvAsInt("CHAT_MAX_TOOL_CALLS", 5),
			RetrievalTopK:   getEnvAsInt("CHAT_RETRIEVAL_TOP_K", 3),
			WebSearchCap:    getEnvAsInt("CHAT_WEB_SEARCH_CAP", 1000),
			ToolHTTPTimeout: getEnvAsInt("CHAT_TOOL_HTTP_TIMEOUT", 10),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Environment == "production" {
		if c.LLM.AnthropicKey == "" && c.LLM.OpenAIKey == "" {
			problems = append(problems, "either ANTHROPIC_API_KEY or OPENAI_API_KEY must be set in production")
		}
	}
	if c.Chunker.ChunkSize <= 0 {
		problems = append(problems, "CHUNK_SIZE must be positive")
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		problems = append(problems, "CHUNK_OVERLAP must be non-negative and smaller than CHUNK_SIZE")
	}
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, "EMBEDDING_DIMENSIONS must be positive")
	}
	if c.Upload.MaxFileSize <= 0 {
		problems = append(problems, "UPLOAD_MAX_FILE_SIZE must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the Redis host:port address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
