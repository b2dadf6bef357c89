// Package storage provides a Redis caching layer for embeddings and rules.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// RedisClient defines the interface for Redis operations.
// This allows for easy mocking in tests and flexibility with Redis client implementations.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for the cache manager.
type CacheConfig struct {
	Prefix              string
	EmbeddingTTL        time.Duration
	RulesTTL            time.Duration
	EnableMetrics       bool
	GracefulDegradation bool // Continue without cache if Redis is unavailable
}

// DefaultCacheConfig returns a default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix:              "aegis",
		EmbeddingTTL:        24 * time.Hour,
		RulesTTL:            time.Minute,
		EnableMetrics:       true,
		GracefulDegradation: true,
	}
}

// CacheMetrics tracks cache hit/miss statistics.
type CacheMetrics struct {
	EmbeddingHits   uint64
	EmbeddingMisses uint64
	RuleHits        uint64
	RuleMisses      uint64
	Errors          uint64
}

// CacheManager provides caching for query embeddings and the enabled rule set.
type CacheManager struct {
	client  RedisClient
	config  CacheConfig
	logger  *slog.Logger
	metrics *CacheMetrics
	healthy bool
}

// NewCacheManager creates a new CacheManager instance.
func NewCacheManager(client RedisClient, logger *slog.Logger, config CacheConfig) *CacheManager {
	if logger == nil {
		logger = slog.Default()
	}

	cm := &CacheManager{
		client:  client,
		config:  config,
		logger:  logger.With("component", "cache_manager"),
		metrics: &CacheMetrics{},
		healthy: true,
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			cm.logger.Warn("Redis connection failed, cache will be disabled", "error", err)
			cm.healthy = false
		}
	} else {
		cm.healthy = false
	}

	return cm
}

// IsHealthy returns whether the cache is operational.
func (cm *CacheManager) IsHealthy() bool {
	return cm.healthy && cm.client != nil
}

// GetMetrics returns current cache metrics.
func (cm *CacheManager) GetMetrics() CacheMetrics {
	return CacheMetrics{
		EmbeddingHits:   atomic.LoadUint64(&cm.metrics.EmbeddingHits),
		EmbeddingMisses: atomic.LoadUint64(&cm.metrics.EmbeddingMisses),
		RuleHits:        atomic.LoadUint64(&cm.metrics.RuleHits),
		RuleMisses:      atomic.LoadUint64(&cm.metrics.RuleMisses),
		Errors:          atomic.LoadUint64(&cm.metrics.Errors),
	}
}

// GetEmbedding retrieves a cached embedding for a text.
func (cm *CacheManager) GetEmbedding(ctx context.Context, text string) ([]float32, bool, error) {
	if !cm.IsHealthy() {
		return nil, false, nil
	}

	key := cm.embeddingKey(text)
	start := time.Now()

	data, err := cm.client.Get(ctx, key)
	if err != nil {
		if cm.config.EnableMetrics {
			atomic.AddUint64(&cm.metrics.EmbeddingMisses, 1)
		}
		cm.logger.Debug("embedding cache miss",
			"text_hash", hashText(text),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, false, nil
	}

	embedding, err := decodeEmbedding([]byte(data))
	if err != nil {
		cm.logger.Error("failed to decode cached embedding", "error", err)
		atomic.AddUint64(&cm.metrics.Errors, 1)
		return nil, false, err
	}

	if cm.config.EnableMetrics {
		atomic.AddUint64(&cm.metrics.EmbeddingHits, 1)
	}
	return embedding, true, nil
}

// SetEmbedding caches an embedding for a text.
func (cm *CacheManager) SetEmbedding(ctx context.Context, text string, embedding []float32) error {
	if !cm.IsHealthy() {
		return nil
	}

	err := cm.client.Set(ctx, cm.embeddingKey(text), encodeEmbedding(embedding), cm.config.EmbeddingTTL)
	if err != nil {
		cm.logger.Error("failed to cache embedding", "error", err)
		atomic.AddUint64(&cm.metrics.Errors, 1)
		if cm.config.GracefulDegradation {
			return nil
		}
		return err
	}
	return nil
}

// GetEnabledRules retrieves the cached enabled rule set.
func (cm *CacheManager) GetEnabledRules(ctx context.Context) ([]Rule, bool, error) {
	if !cm.IsHealthy() {
		return nil, false, nil
	}

	data, err := cm.client.Get(ctx, cm.rulesKey())
	if err != nil {
		if cm.config.EnableMetrics {
			atomic.AddUint64(&cm.metrics.RuleMisses, 1)
		}
		return nil, false, nil
	}

	var rules []Rule
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		cm.logger.Error("failed to decode cached rules", "error", err)
		atomic.AddUint64(&cm.metrics.Errors, 1)
		return nil, false, err
	}

	if cm.config.EnableMetrics {
		atomic.AddUint64(&cm.metrics.RuleHits, 1)
	}
	return rules, true, nil
}

// SetEnabledRules caches the enabled rule set.
func (cm *CacheManager) SetEnabledRules(ctx context.Context, rules []Rule) error {
	if !cm.IsHealthy() {
		return nil
	}

	data, err := json.Marshal(rules)
	if err != nil {
		cm.logger.Error("failed to encode rules for cache", "error", err)
		return err
	}

	if err := cm.client.Set(ctx, cm.rulesKey(), data, cm.config.RulesTTL); err != nil {
		cm.logger.Error("failed to cache rules", "error", err)
		atomic.AddUint64(&cm.metrics.Errors, 1)
		if cm.config.GracefulDegradation {
			return nil
		}
		return err
	}
	return nil
}

// InvalidateRules drops the cached rule set after a rule write.
func (cm *CacheManager) InvalidateRules(ctx context.Context) error {
	if !cm.IsHealthy() {
		return nil
	}

	if err := cm.client.Del(ctx, cm.rulesKey()); err != nil {
		cm.logger.Warn("failed to invalidate rule cache", "error", err)
	}
	return nil
}

// InvalidateAll clears every cache entry under the prefix.
func (cm *CacheManager) InvalidateAll(ctx context.Context) error {
	if !cm.IsHealthy() {
		return nil
	}

	pattern := fmt.Sprintf("%s:*", cm.config.Prefix)
	keys, err := cm.client.Keys(ctx, pattern)
	if err != nil {
		cm.logger.Warn("failed to get cache keys", "error", err)
		return err
	}

	if len(keys) > 0 {
		if err := cm.client.Del(ctx, keys...); err != nil {
			cm.logger.Warn("failed to invalidate all caches", "error", err)
			return err
		}
	}

	cm.logger.Info("invalidated all caches", "keys_deleted", len(keys))
	return nil
}

// Close closes the cache manager.
func (cm *CacheManager) Close() error {
	if cm.client != nil {
		return cm.client.Close()
	}
	return nil
}

// Key generation helpers

func (cm *CacheManager) embeddingKey(text string) string {
	return fmt.Sprintf("%s:embed:%s", cm.config.Prefix, hashText(text))
}

func (cm *CacheManager) rulesKey() string {
	return fmt.Sprintf("%s:rules:enabled", cm.config.Prefix)
}

// hashText creates a hash of the text for use as a cache key.
func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:16])
}

// Embedding encoding/decoding helpers

func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding data length: %d", len(data))
	}

	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}
