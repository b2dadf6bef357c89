// Package events publishes application events over NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/pkg/logger"
)

// Stream names for JetStream.
const (
	StreamGuardrails = "GUARDRAILS"
	StreamDocuments  = "DOCUMENTS"
)

// Subjects for event routing.
const (
	SubjectViolation       = "guardrails.violation"
	SubjectDocumentIndexed = "documents.indexed"
	SubjectDocumentDeleted = "documents.deleted"
)

// Config holds NATS connection configuration.
type Config struct {
	URL            string
	ClientName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		URL:            "nats://localhost:4222",
		ClientName:     "aegis",
		MaxReconnects:  -1, // Infinite reconnects
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Publisher publishes events to JetStream.
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config Config
	log    *logger.Logger
	mu     sync.RWMutex
}

// NewPublisher connects to NATS and creates a JetStream publisher.
func NewPublisher(cfg Config, log *logger.Logger) (*Publisher, error) {
	if log == nil {
		log = logger.Default()
	}

	p := &Publisher{
		config: cfg,
		log:    log.WithComponent("events"),
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Publisher) connect() error {
	opts := []nats.Option{
		nats.Name(p.config.ClientName),
		nats.MaxReconnects(p.config.MaxReconnects),
		nats.ReconnectWait(p.config.ReconnectWait),
		nats.Timeout(p.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				p.log.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			p.log.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			p.log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(p.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.js = js
	p.mu.Unlock()

	p.log.Info("connected to NATS", "url", p.config.URL)
	return nil
}

// SetupStreams creates or updates the required JetStream streams.
func (p *Publisher) SetupStreams(ctx context.Context) error {
	streams := []nats.StreamConfig{
		{
			Name:        StreamGuardrails,
			Description: "Guardrail violation events",
			Subjects:    []string{"guardrails.>"},
			Storage:     nats.FileStorage,
			Retention:   nats.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			MaxMsgs:     -1,
			MaxBytes:    -1,
			Replicas:    1,
			Discard:     nats.DiscardOld,
		},
		{
			Name:        StreamDocuments,
			Description: "Document lifecycle events",
			Subjects:    []string{"documents.>"},
			Storage:     nats.FileStorage,
			Retention:   nats.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			MaxMsgs:     -1,
			MaxBytes:    -1,
			Replicas:    1,
			Discard:     nats.DiscardOld,
		},
	}

	p.mu.RLock()
	js := p.js
	p.mu.RUnlock()

	for _, cfg := range streams {
		_, err := js.StreamInfo(cfg.Name)
		if err != nil {
			if errors.Is(err, nats.ErrStreamNotFound) {
				if _, err = js.AddStream(&cfg); err != nil {
					return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
				}
				p.log.Info("created stream", "stream", cfg.Name)
			} else {
				return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
			}
		} else {
			if _, err = js.UpdateStream(&cfg); err != nil {
				p.log.Warn("failed to update stream", "stream", cfg.Name, "error", err)
			}
		}
	}

	return nil
}

// Publish marshals and publishes an event to a subject.
func (p *Publisher) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.RLock()
	js := p.js
	p.mu.RUnlock()

	if _, err = js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.log.Debug("published event", "subject", subject, "size", len(data))
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && p.conn.IsConnected()
}

// Drain gracefully drains the connection.
func (p *Publisher) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			return fmt.Errorf("failed to drain connection: %w", err)
		}
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.js = nil
	}
	return nil
}

// ViolationEvent is published when content trips a guardrail rule.
type ViolationEvent struct {
	EventID     string    `json:"event_id"`
	ViolationID string    `json:"violation_id"`
	UserID      string    `json:"user_id,omitempty"`
	RuleName    string    `json:"rule_name"`
	RuleType    string    `json:"rule_type"`
	ActionTaken string    `json:"action_taken"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// DocumentIndexedEvent is published when a document finishes ingestion.
type DocumentIndexedEvent struct {
	EventID    string    `json:"event_id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// DocumentDeletedEvent is published when a document is removed.
type DocumentDeletedEvent struct {
	EventID    string    `json:"event_id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Filename   string    `json:"filename"`
	DeletedAt  time.Time `json:"deleted_at"`
}

// PublishViolation publishes a guardrail violation event.
func (p *Publisher) PublishViolation(ctx context.Context, v storage.Violation) error {
	return p.Publish(ctx, SubjectViolation, ViolationEvent{
		EventID:     uuid.New().String(),
		ViolationID: v.ID.String(),
		UserID:      v.UserID.String,
		RuleName:    v.RuleName,
		RuleType:    v.RuleType,
		ActionTaken: v.ActionTaken,
		OccurredAt:  time.Now().UTC(),
	})
}

// PublishDocumentIndexed publishes a document indexed event.
func (p *Publisher) PublishDocumentIndexed(ctx context.Context, doc storage.Document, chunkCount int) error {
	return p.Publish(ctx, SubjectDocumentIndexed, DocumentIndexedEvent{
		EventID:    uuid.New().String(),
		DocumentID: doc.ID.String(),
		UserID:     doc.UserID,
		Filename:   doc.Filename,
		FileType:   doc.FileType,
		ChunkCount: chunkCount,
		IndexedAt:  time.Now().UTC(),
	})
}

// PublishDocumentDeleted publishes a document deleted event.
func (p *Publisher) PublishDocumentDeleted(ctx context.Context, doc storage.Document) error {
	return p.Publish(ctx, SubjectDocumentDeleted, DocumentDeletedEvent{
		EventID:    uuid.New().String(),
		DocumentID: doc.ID.String(),
		UserID:     doc.UserID,
		Filename:   doc.Filename,
		DeletedAt:  time.Now().UTC(),
	})
}
