// Package main is the entry point for the Aegis API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aegislabs/aegis/internal/api"
	"github.com/aegislabs/aegis/internal/api/handlers"
	"github.com/aegislabs/aegis/internal/api/middleware"
	"github.com/aegislabs/aegis/internal/chat"
	"github.com/aegislabs/aegis/internal/chunker"
	"github.com/aegislabs/aegis/internal/config"
	"github.com/aegislabs/aegis/internal/embedder"
	"github.com/aegislabs/aegis/internal/events"
	"github.com/aegislabs/aegis/internal/guardrails"
	"github.com/aegislabs/aegis/internal/llm"
	"github.com/aegislabs/aegis/internal/rag"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/internal/tools"
	"github.com/aegislabs/aegis/pkg/logger"
	"github.com/aegislabs/aegis/pkg/shutdown"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	log.Info("starting aegis",
		"version", version,
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
	)

	shutdownHandler := shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	readiness := make(map[string]handlers.HealthChecker)

	// ============================
	// Postgres
	// ============================
	var db *storage.PostgresDB
	if cfg.Database.Host != "" {
		db, err = storage.NewPostgres(storage.PostgresConfig{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			Database:     cfg.Database.Database,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			log.WithError(err).Warn("failed to connect to database, running in limited mode")
			db = nil
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := db.InitSchema(ctx, cfg.Embedding.Dimensions); err != nil {
				cancel()
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
			cancel()

			log.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)
			shutdownHandler.Register("database", func(ctx context.Context) error {
				return db.Close()
			})
			readiness["database"] = db
		}
	}

	// ============================
	// Redis cache
	// ============================
	var cacheManager *storage.CacheManager
	redisClient, err := storage.NewRedisClient(storage.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.WithError(err).Warn("failed to connect to Redis, caching disabled")
	} else {
		cacheCfg := storage.DefaultCacheConfig()
		cacheCfg.EmbeddingTTL = time.Duration(cfg.Embedding.CacheTTL) * time.Second
		cacheCfg.RulesTTL = time.Duration(cfg.Guardrails.CacheTTL) * time.Second
		cacheManager = storage.NewCacheManager(redisClient, log.Logger, cacheCfg)

		log.Info("connected to Redis", "host", cfg.Redis.Host)
		shutdownHandler.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
		readiness["redis"] = handlers.HealthFunc(redisClient.Ping)
	}

	// ============================
	// Object storage
	// ============================
	var objectStore *storage.MinIOStorage
	if cfg.Storage.Endpoint != "" {
		objectStore, err = storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			BucketName:      cfg.Storage.BucketName,
			UseSSL:          cfg.Storage.UseSSL,
			Region:          cfg.Storage.Region,
		})
		if err != nil {
			log.WithError(err).Warn("failed to connect to object storage, document uploads disabled")
			objectStore = nil
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := objectStore.InitBucket(ctx); err != nil {
				log.WithError(err).Warn("failed to initialize storage bucket")
			}
			cancel()

			log.Info("connected to object storage", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.BucketName)
			readiness["object_storage"] = objectStore
		}
	}

	// ============================
	// NATS events
	// ============================
	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		eventsCfg := events.DefaultConfig()
		eventsCfg.URL = cfg.NATS.URL
		publisher, err = events.NewPublisher(eventsCfg, log)
		if err != nil {
			log.WithError(err).Warn("failed to connect to NATS, events disabled")
			publisher = nil
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := publisher.SetupStreams(ctx); err != nil {
				log.WithError(err).Warn("failed to setup event streams")
			}
			cancel()

			log.Info("connected to NATS", "url", cfg.NATS.URL)
			shutdownHandler.Register("nats", func(ctx context.Context) error {
				return publisher.Drain()
			})
			readiness["nats"] = handlers.HealthFunc(func(ctx context.Context) error {
				if !publisher.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			})
		}
	}

	// ============================
	// Guardrails
	// ============================
	var guardrailsService *guardrails.Service
	if db != nil {
		guardrailsService = guardrails.NewService(
			guardrails.Config{
				Enabled:      cfg.Guardrails.Enabled,
				SnippetLimit: cfg.Guardrails.SnippetLimit,
			},
			storage.NewRuleStore(db, log.Logger),
			storage.NewViolationStore(db, log.Logger),
			ruleCacheOrNil(cacheManager),
			violationNotifierOrNil(publisher),
			log.Logger,
		)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		inserted, err := guardrailsService.EnsureDefaults(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to seed default rules: %w", err)
		}
		if inserted > 0 {
			log.Info("seeded default rules", "inserted", inserted)
		}
	} else {
		log.Warn("guardrails disabled: no database")
	}

	// ============================
	// LLM provider
	// ============================
	var provider llm.Provider
	providerCfg := llm.ProviderConfig{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		APIKey:            llmAPIKey(cfg),
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		EnableToolCalling: cfg.LLM.EnableToolCalling,
	}
	if cfg.LLM.Provider == "ollama" {
		providerCfg.BaseURL = cfg.LLM.OllamaBaseURL
	}
	provider, err = llm.NewProvider(providerCfg, log)
	if err != nil {
		log.WithError(err).Warn("failed to create LLM provider, chat disabled")
		provider = nil
	} else {
		log.Info("LLM provider ready", "provider", provider.Name(), "model", provider.Model())
	}

	// ============================
	// Document pipeline + RAG chat
	// ============================
	var ragService *rag.Service
	if db != nil && objectStore != nil && provider != nil && cfg.LLM.OpenAIKey != "" {
		embCfg := embedder.DefaultConfig(cfg.LLM.OpenAIKey)
		embCfg.Model = cfg.Embedding.Model
		embCfg.Dimensions = cfg.Embedding.Dimensions
		embCfg.MaxBatchSize = cfg.Embedding.BatchSize
		embCfg.RateLimitRPS = cfg.Embedding.RateLimit

		emb, err := embedder.NewOpenAIEmbedder(embCfg, embedderCacheOrNil(cacheManager), log)
		if err != nil {
			log.WithError(err).Warn("failed to create embedder, document features disabled")
		} else {
			splitter, err := chunker.New(chunker.Config{
				ChunkSize:    cfg.Chunker.ChunkSize,
				ChunkOverlap: cfg.Chunker.ChunkOverlap,
			})
			if err != nil {
				return fmt.Errorf("invalid chunker config: %w", err)
			}

			documents := storage.NewDocumentStore(db, log.Logger)
			vectors := storage.NewPgVectorStore(db, log.Logger)
			history := storage.NewChatHistoryStore(db, log.Logger)
			notifier := documentNotifierOrNil(publisher)

			ingestor := rag.NewIngestor(documents, vectors, objectStore, splitter, emb, notifier,
				rag.IngestorConfig{MaxFileSize: cfg.Upload.MaxFileSize}, log)

			retrieverCfg := rag.DefaultRetrieverConfig()
			retrieverCfg.TopKPerDocument = cfg.Chat.RetrievalTopK
			retriever := rag.NewRetriever(documents, vectors, emb, queryCacheOrNil(cacheManager), retrieverCfg, log)

			searcher := tools.NewWebSearchTool(
				time.Duration(cfg.Chat.ToolHTTPTimeout)*time.Second, cfg.Chat.WebSearchCap)

			ragService = rag.NewService(ingestor, retriever, provider, documents, vectors,
				objectStore, history, searcher, notifier,
				rag.ServiceConfig{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature}, log)
			log.Info("document pipeline ready", "embedding_model", cfg.Embedding.Model)
		}
	} else {
		log.Warn("document features disabled: requires database, object storage, LLM provider, and OPENAI_API_KEY")
	}

	// ============================
	// Tool chat
	// ============================
	var chatService *chat.Service
	if db != nil && provider != nil {
		registry := tools.NewRegistry(log)
		toolTimeout := time.Duration(cfg.Chat.ToolHTTPTimeout) * time.Second
		registry.MustRegister(tools.NewWebSearchTool(toolTimeout, cfg.Chat.WebSearchCap))
		registry.MustRegister(tools.NewHTTPGetTool(toolTimeout, cfg.Chat.WebSearchCap))
		registry.MustRegister(tools.NewCalculatorTool())

		history := storage.NewChatHistoryStore(db, log.Logger)
		chatCfg := chat.DefaultConfig()
		chatCfg.MaxToolCalls = cfg.Chat.MaxToolCalls
		chatCfg.MaxTokens = cfg.LLM.MaxTokens
		chatCfg.Temperature = cfg.LLM.Temperature
		chatService = chat.NewService(provider, registry, history, chatCfg, log)
	}

	// ============================
	// HTTP server
	// ============================
	var rateLimitStore middleware.RateLimitStore
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient, "aegis:ratelimit", log)
	} else {
		rateLimitStore = middleware.NewMemoryRateLimitStore()
	}

	deps := api.Dependencies{
		Logger:         log,
		RateLimitStore: rateLimitStore,
		Readiness:      readiness,
	}
	if guardrailsService != nil {
		deps.Guardrails = guardrailsService
		deps.Checker = guardrailsService
	}
	if ragService != nil {
		deps.Documents = ragService
		deps.RAGChat = ragService
	}
	if chatService != nil {
		deps.ToolChat = chatService
		deps.History = chatService
	}

	routerCfg := api.DefaultRouterConfig()
	routerCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	routerCfg.RequestTimeout = time.Duration(cfg.Server.RequestTimeout) * time.Second
	routerCfg.MaxUploadBytes = cfg.Upload.MaxFileSize + (1 << 20)
	routerCfg.Version = version

	router := api.NewRouter(deps, routerCfg)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Port = cfg.Server.Port
	serverCfg.ShutdownTimeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second

	server := api.NewServer(router, serverCfg, log)
	shutdownHandler.Register("http-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	shutdownHandler.Wait()
	log.Info("server stopped")
	return nil
}

func llmAPIKey(cfg *config.Config) string {
	switch cfg.LLM.Provider {
	case "anthropic":
		return cfg.LLM.AnthropicKey
	case "openai":
		return cfg.LLM.OpenAIKey
	default:
		return ""
	}
}

// The *Publisher and *CacheManager pointers must not be wrapped in service
// interfaces when nil, or the services would see a non-nil interface holding
// a nil pointer.

func ruleCacheOrNil(cm *storage.CacheManager) guardrails.RuleCache {
	if cm == nil {
		return nil
	}
	return cm
}

func embedderCacheOrNil(cm *storage.CacheManager) embedder.Cache {
	if cm == nil {
		return nil
	}
	return cm
}

func queryCacheOrNil(cm *storage.CacheManager) rag.EmbeddingCache {
	if cm == nil {
		return nil
	}
	return cm
}

func violationNotifierOrNil(p *events.Publisher) guardrails.Notifier {
	if p == nil {
		return nil
	}
	return p
}

func documentNotifierOrNil(p *events.Publisher) rag.Notifier {
	if p == nil {
		return nil
	}
	return p
}
