// Package main is the entry point for the aegisctl operations CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/aegislabs/aegis/internal/chunker"
	"github.com/aegislabs/aegis/internal/config"
	"github.com/aegislabs/aegis/internal/embedder"
	"github.com/aegislabs/aegis/internal/events"
	"github.com/aegislabs/aegis/internal/guardrails"
	"github.com/aegislabs/aegis/internal/rag"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:     "aegisctl",
		Short:   "Aegis operations CLI",
		Long:    "CLI tool for seeding moderation rules, checking backend health, and rebuilding document indexes.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newReindexCmd())

	return rootCmd.Execute()
}

// newSeedCmd creates the seed subcommand.
func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the built-in moderation rules",
		Long:  "Insert the default moderation rule set, skipping names that already exist.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context())
		},
	}
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check backend health",
		Long:  "Ping each configured backend and report its status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	return cmd
}

// newReindexCmd creates the reindex subcommand.
func newReindexCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild a user's document index",
		Long:  "Re-extract, re-chunk, and re-embed every document the user owns, replacing each chunk collection.",
		Example: `  # Rebuild all indexes for one user
  aegisctl reindex --user=u-123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context(), userID)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User whose documents to reindex (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

// runSeed executes the seed command.
func runSeed(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	db, err := connectPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := guardrails.NewService(
		guardrails.Config{
			Enabled:      cfg.Guardrails.Enabled,
			SnippetLimit: cfg.Guardrails.SnippetLimit,
		},
		storage.NewRuleStore(db, log.Logger),
		storage.NewViolationStore(db, log.Logger),
		nil, nil,
		log.Logger,
	)

	inserted, err := svc.EnsureDefaults(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed rules: %w", err)
	}

	rules, err := svc.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	fmt.Printf("Seeded %d rule(s), %d total\n", inserted, len(rules))
	return nil
}

// componentStatus is one row of the status report.
type componentStatus struct {
	Component string `json:"component"`
	Target    string `json:"target"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// runStatus executes the status command.
func runStatus(ctx context.Context, jsonOutput bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{Level: "error", Format: "text"})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var report []componentStatus

	report = append(report, checkComponent("database", cfg.Database.Host, func() error {
		db, err := storage.NewPostgres(postgresConfig(cfg))
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Health(ctx)
	}))

	report = append(report, checkComponent("redis", cfg.Redis.Addr(), func() error {
		client, err := storage.NewRedisClient(storage.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		return client.Ping(ctx)
	}))

	report = append(report, checkComponent("object_storage", cfg.Storage.Endpoint, func() error {
		store, err := storage.NewMinIOStorage(minioConfig(cfg))
		if err != nil {
			return err
		}
		return store.Health(ctx)
	}))

	report = append(report, checkComponent("nats", cfg.NATS.URL, func() error {
		eventsCfg := events.DefaultConfig()
		eventsCfg.URL = cfg.NATS.URL
		pub, err := events.NewPublisher(eventsCfg, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		if !pub.IsConnected() {
			return fmt.Errorf("not connected")
		}
		return nil
	}))

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Println("=== Aegis Backend Status ===")
		fmt.Println()
		for _, row := range report {
			if row.Error != "" {
				fmt.Printf("  %-15s %-8s %s (%s)\n", row.Component, row.Status, row.Target, row.Error)
			} else {
				fmt.Printf("  %-15s %-8s %s\n", row.Component, row.Status, row.Target)
			}
		}
	}

	for _, row := range report {
		if row.Status != "ok" {
			return fmt.Errorf("%d component(s) unhealthy", countUnhealthy(report))
		}
	}
	return nil
}

func checkComponent(name, target string, check func() error) componentStatus {
	status := componentStatus{Component: name, Target: target, Status: "ok"}
	if err := check(); err != nil {
		status.Status = "error"
		status.Error = err.Error()
	}
	return status
}

func countUnhealthy(report []componentStatus) int {
	n := 0
	for _, row := range report {
		if row.Status != "ok" {
			n++
		}
	}
	return n
}

// runReindex executes the reindex command.
func runReindex(ctx context.Context, userID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, cancelling...")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.SetDefault()

	if cfg.LLM.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for reindexing")
	}

	db, err := connectPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	objects, err := storage.NewMinIOStorage(minioConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to object storage: %w", err)
	}

	embCfg := embedder.DefaultConfig(cfg.LLM.OpenAIKey)
	embCfg.Model = cfg.Embedding.Model
	embCfg.Dimensions = cfg.Embedding.Dimensions
	embCfg.MaxBatchSize = cfg.Embedding.BatchSize
	embCfg.RateLimitRPS = cfg.Embedding.RateLimit
	emb, err := embedder.NewOpenAIEmbedder(embCfg, nil, log)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	splitter, err := chunker.New(chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	})
	if err != nil {
		return fmt.Errorf("invalid chunker config: %w", err)
	}

	documents := storage.NewDocumentStore(db, log.Logger)
	vectors := storage.NewPgVectorStore(db, log.Logger)

	docs, err := documents.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Printf("No documents found for user %s\n", userID)
		return nil
	}

	log.Info("reindexing documents", "user_id", userID, "count", len(docs))

	bar := progressbar.NewOptions(len(docs),
		progressbar.OptionSetDescription("Reindexing documents"),
		progressbar.OptionShowCount(),
	)

	var reindexed, failed int
	for _, doc := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := reindexDocument(ctx, doc, objects, splitter, emb, vectors); err != nil {
			log.WithError(err).Warn("failed to reindex document",
				"document_id", doc.ID,
				"filename", doc.Filename,
			)
			failed++
		} else {
			reindexed++
		}
		bar.Add(1)
	}
	fmt.Println()

	fmt.Printf("Reindexed %d document(s), %d failed\n", reindexed, failed)
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

// reindexDocument rebuilds one document's chunk collection from the stored
// file. The old collection is only dropped once the new chunks are ready.
func reindexDocument(
	ctx context.Context,
	doc storage.Document,
	objects *storage.MinIOStorage,
	splitter *chunker.Chunker,
	emb embedder.Embedder,
	vectors *storage.PgVectorStore,
) error {
	data, err := objects.Download(ctx, doc.Filepath)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}

	text, err := rag.ExtractText(doc.Filename, data)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}

	chunks := splitter.Split(chunker.NormalizeText(text))
	if len(chunks) == 0 {
		return fmt.Errorf("document produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d for %d chunks", len(embeddings), len(chunks))
	}

	collectionID := doc.CollectionID()
	rows := make([]storage.DocumentChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = storage.DocumentChunk{
			ID:           uuid.New(),
			CollectionID: collectionID,
			DocumentID:   doc.ID,
			ChunkIndex:   c.Index,
			Content:      c.Content,
			TokenCount:   c.TokenCount,
			Embedding:    embeddings[i],
		}
	}

	if err := vectors.DeleteCollection(ctx, collectionID); err != nil {
		return fmt.Errorf("failed to drop old collection: %w", err)
	}
	if err := vectors.UpsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("failed to write new collection: %w", err)
	}
	return nil
}

func connectPostgres(ctx context.Context, cfg *config.Config) (*storage.PostgresDB, error) {
	db, err := storage.NewPostgres(postgresConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.InitSchema(ctx, cfg.Embedding.Dimensions); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func postgresConfig(cfg *config.Config) storage.PostgresConfig {
	return storage.PostgresConfig{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}

func minioConfig(cfg *config.Config) storage.MinIOConfig {
	return storage.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
	}
}
