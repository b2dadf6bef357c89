// Package testing provides test utilities including testcontainers setup.
package testing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aegislabs/aegis/internal/storage"

	_ "github.com/lib/pq"
)

// ContainerConfig holds configuration for test containers.
type ContainerConfig struct {
	PostgresImage  string
	PostgresDB     string
	PostgresUser   string
	PostgresPass   string
	RedisImage     string
	StartupTimeout time.Duration
}

// DefaultContainerConfig returns a default container configuration.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		PostgresImage:  "pgvector/pgvector:pg16",
		PostgresDB:     "testdb",
		PostgresUser:   "testuser",
		PostgresPass:   "testpass",
		RedisImage:     "redis:7-alpine",
		StartupTimeout: 60 * time.Second,
	}
}

// TestContainers holds running test containers.
type TestContainers struct {
	PostgresContainer *postgres.PostgresContainer
	RedisContainer    *redis.RedisContainer
	PostgresConnStr   string
	RedisConnStr      string
	config            ContainerConfig
	logger            *slog.Logger
}

// NewTestContainers creates a container manager. Nothing is started until
// StartPostgres, StartRedis, or StartAll is called.
func NewTestContainers(config ContainerConfig, logger *slog.Logger) *TestContainers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestContainers{
		config: config,
		logger: logger.With("component", "testcontainers"),
	}
}

// StartPostgres starts a PostgreSQL container with the pgvector extension
// available.
func (tc *TestContainers) StartPostgres(ctx context.Context) error {
	tc.logger.Info("starting PostgreSQL container", "image", tc.config.PostgresImage)

	container, err := postgres.Run(ctx,
		tc.config.PostgresImage,
		postgres.WithDatabase(tc.config.PostgresDB),
		postgres.WithUsername(tc.config.PostgresUser),
		postgres.WithPassword(tc.config.PostgresPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(tc.config.StartupTimeout),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start postgres container: %w", err)
	}
	tc.PostgresContainer = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get postgres connection string: %w", err)
	}
	tc.PostgresConnStr = connStr

	tc.logger.Info("PostgreSQL container started")
	return nil
}

// StartRedis starts a Redis container.
func (tc *TestContainers) StartRedis(ctx context.Context) error {
	tc.logger.Info("starting Redis container", "image", tc.config.RedisImage)

	container, err := redis.Run(ctx,
		tc.config.RedisImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(tc.config.StartupTimeout),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start redis container: %w", err)
	}
	tc.RedisContainer = container

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection string: %w", err)
	}
	tc.RedisConnStr = connStr

	tc.logger.Info("Redis container started")
	return nil
}

// StartAll starts both PostgreSQL and Redis containers.
func (tc *TestContainers) StartAll(ctx context.Context) error {
	if err := tc.StartPostgres(ctx); err != nil {
		return err
	}
	return tc.StartRedis(ctx)
}

// Cleanup terminates all running containers.
func (tc *TestContainers) Cleanup(ctx context.Context) error {
	var errs []error

	if tc.PostgresContainer != nil {
		if err := tc.PostgresContainer.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate postgres: %w", err))
		}
	}
	if tc.RedisContainer != nil {
		if err := tc.RedisContainer.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate redis: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// PostgresConfig converts the running container's connection string into a
// storage.PostgresConfig so tests exercise the real connection path.
func (tc *TestContainers) PostgresConfig() (storage.PostgresConfig, error) {
	if tc.PostgresConnStr == "" {
		return storage.PostgresConfig{}, fmt.Errorf("postgres container not started")
	}

	u, err := url.Parse(tc.PostgresConnStr)
	if err != nil {
		return storage.PostgresConfig{}, fmt.Errorf("failed to parse postgres connection string: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return storage.PostgresConfig{}, fmt.Errorf("failed to parse postgres port: %w", err)
	}

	return storage.PostgresConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     tc.config.PostgresUser,
		Password: tc.config.PostgresPass,
		Database: tc.config.PostgresDB,
		SSLMode:  "disable",
	}, nil
}

// RedisConfig converts the running container's connection string into a
// storage.RedisConfig.
func (tc *TestContainers) RedisConfig() (storage.RedisConfig, error) {
	if tc.RedisConnStr == "" {
		return storage.RedisConfig{}, fmt.Errorf("redis container not started")
	}

	u, err := url.Parse(tc.RedisConnStr)
	if err != nil {
		return storage.RedisConfig{}, fmt.Errorf("failed to parse redis connection string: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return storage.RedisConfig{}, fmt.Errorf("failed to parse redis port: %w", err)
	}

	return storage.RedisConfig{
		Host: u.Hostname(),
		Port: port,
	}, nil
}

// TruncateAll clears every application table for a clean test state.
func TruncateAll(ctx context.Context, db *sql.DB) error {
	tables := []string{
		"guardrail_violations",
		"guardrail_rules",
		"document_chunks",
		"documents",
		"chat_history",
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}
