// Package embedder provides embedding generation for text-to-vector conversion.
package embedder

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/aegislabs/aegis/pkg/logger"
)

// Embedder defines the interface for embedding generation.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// ModelName returns the model name.
	ModelName() string
}

// Cache stores computed embeddings between calls. storage.CacheManager
// satisfies this; a nil cache disables caching.
type Cache interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, text string, embedding []float32) error
}

// Config holds configuration for the embedder.
type Config struct {
	APIKey         string
	BaseURL        string // optional OpenAI-compatible endpoint
	Model          string
	Dimensions     int
	MaxBatchSize   int           // Max texts per API call
	MaxRetries     int           // Max retry attempts
	RetryDelay     time.Duration // Initial retry delay
	RateLimitRPS   float64       // Requests per second
	RequestTimeout time.Duration // Timeout per request
}

// DefaultConfig returns default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          "text-embedding-3-small",
		Dimensions:     1536,
		MaxBatchSize:   64,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RateLimitRPS:   10,
		RequestTimeout: 60 * time.Second,
	}
}

// Stats tracks embedding usage statistics.
type Stats struct {
	TotalRequests int64   `json:"total_requests"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalTexts    int64   `json:"total_texts"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	Errors        int64   `json:"errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// OpenAIEmbedder implements embedding generation using the OpenAI API.
type OpenAIEmbedder struct {
	client      *openai.Client
	config      Config
	rateLimiter *rate.Limiter
	cache       Cache
	log         *logger.Logger
	stats       *Stats
	statsMu     sync.RWMutex
}

// NewOpenAIEmbedder creates a new OpenAI embedder. cache may be nil.
func NewOpenAIEmbedder(cfg Config, cache Cache, log *logger.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 64
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(clientCfg),
		config:      cfg,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), int(cfg.RateLimitRPS)+1),
		cache:       cache,
		log:         log.WithComponent("embedder"),
		stats:       &Stats{},
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, serving repeats from
// the cache and batching the rest through the API.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	startTime := time.Now()

	results := make([][]float32, len(texts))
	textsToEmbed := make([]string, 0, len(texts))
	textIndices := make([]int, 0, len(texts))

	for i, text := range texts {
		if e.cache != nil {
			if emb, ok, err := e.cache.GetEmbedding(ctx, text); err == nil && ok {
				results[i] = emb
				e.incrementCacheHit()
				continue
			}
			e.incrementCacheMiss()
		}
		textsToEmbed = append(textsToEmbed, text)
		textIndices = append(textIndices, i)
	}

	if len(textsToEmbed) == 0 {
		e.log.Debug("all embeddings from cache", "count", len(texts))
		return results, nil
	}

	for i := 0; i < len(textsToEmbed); i += e.config.MaxBatchSize {
		end := i + e.config.MaxBatchSize
		if end > len(textsToEmbed) {
			end = len(textsToEmbed)
		}

		batchTexts := textsToEmbed[i:end]
		batchIndices := textIndices[i:end]

		embeddings, tokens, err := e.embedBatchWithRetry(ctx, batchTexts)
		if err != nil {
			e.incrementError()
			return nil, fmt.Errorf("batch embedding failed: %w", err)
		}

		for j, emb := range embeddings {
			results[batchIndices[j]] = emb
			if e.cache != nil {
				if err := e.cache.SetEmbedding(ctx, batchTexts[j], emb); err != nil {
					e.log.Warn("failed to cache embedding", "error", err)
				}
			}
		}

		e.updateStats(len(batchTexts), tokens, time.Since(startTime))
	}

	e.log.Info("batch embedding complete",
		"total_texts", len(texts),
		"from_cache", len(texts)-len(textsToEmbed),
		"from_api", len(textsToEmbed),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return results, nil
}

// embedBatchWithRetry performs the embedding call with exponential backoff.
func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, int, error) {
	var lastErr error
	delay := e.config.RetryDelay

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.log.Debug("retrying embedding request", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := e.rateLimiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter error: %w", err)
		}

		embeddings, tokens, err := e.doEmbedBatch(ctx, texts)
		if err == nil {
			return embeddings, tokens, nil
		}

		lastErr = err
		e.log.WithError(err).Warn("embedding request failed", "attempt", attempt)
	}

	return nil, 0, fmt.Errorf("all retries failed: %w", lastErr)
}

// doEmbedBatch performs a single embedding API call.
func (e *OpenAIEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	}

	resp, err := e.client.CreateEmbeddings(reqCtx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("unexpected response: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}

	return embeddings, resp.Usage.TotalTokens, nil
}

// Dimension returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	if e.config.Dimensions > 0 {
		return e.config.Dimensions
	}
	return 1536
}

// ModelName returns the model name.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// GetStats returns current embedding statistics.
func (e *OpenAIEmbedder) GetStats() Stats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return *e.stats
}

// ResetStats resets the statistics.
func (e *OpenAIEmbedder) ResetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = &Stats{}
}

func (e *OpenAIEmbedder) updateStats(textCount, tokens int, latency time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.stats.TotalRequests++
	e.stats.TotalTokens += int64(tokens)
	e.stats.TotalTexts += int64(textCount)

	totalLatency := e.stats.AvgLatencyMs * float64(e.stats.TotalRequests-1)
	e.stats.AvgLatencyMs = (totalLatency + float64(latency.Milliseconds())) / float64(e.stats.TotalRequests)
}

func (e *OpenAIEmbedder) incrementCacheHit() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.CacheHits++
}

func (e *OpenAIEmbedder) incrementCacheMiss() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.CacheMisses++
}

func (e *OpenAIEmbedder) incrementError() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Errors++
}

// MockEmbedder provides a deterministic embedder for testing.
type MockEmbedder struct {
	dimension int
	// Err, when set, is returned by every call.
	Err error
}

// NewMockEmbedder creates a new mock embedder.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

// Embed generates a deterministic embedding from the text hash.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	hash := sha256.Sum256([]byte(text))
	embedding := make([]float32, m.dimension)
	for i := 0; i < m.dimension; i++ {
		embedding[i] = float32(hash[i%32]) / 255.0
	}
	return embedding, nil
}

// EmbedBatch generates mock embeddings for multiple texts.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimension returns the mock embedding dimension.
func (m *MockEmbedder) Dimension() int {
	return m.dimension
}

// ModelName returns the mock model name.
func (m *MockEmbedder) ModelName() string {
	return "mock-embedder"
}

// CosineSimilarity calculates cosine similarity between two embeddings.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// NormalizeEmbedding normalizes an embedding to unit length.
func NormalizeEmbedding(embedding []float32) []float32 {
	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return embedding
	}

	result := make([]float32, len(embedding))
	for i, v := range embedding {
		result[i] = float32(float64(v) / norm)
	}
	return result
}
