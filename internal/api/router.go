// Package api assembles the HTTP router and server.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/aegislabs/aegis/internal/api/handlers"
	"github.com/aegislabs/aegis/internal/api/middleware"
	"github.com/aegislabs/aegis/pkg/logger"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int

	RequestTimeout time.Duration

	// MaxUploadBytes bounds multipart document uploads.
	MaxUploadBytes int64

	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig

	// Version is reported by /health.
	Version string
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
		ExposedHeaders:     []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials:   false,
		MaxAge:             300,
		RequestTimeout:     60 * time.Second,
		MaxUploadBytes:     50 << 20,
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(),
		Version:            "0.1.0",
	}
}

// Dependencies holds everything the handlers need. Guardrails, chat, and
// document services may be nil; their routes then answer 503.
type Dependencies struct {
	Logger         *logger.Logger
	Guardrails     handlers.GuardrailsService
	Checker        handlers.ContentChecker
	Documents      handlers.DocumentService
	RAGChat        handlers.RAGChatService
	ToolChat       handlers.ToolChatService
	History        handlers.HistoryService
	RateLimitStore middleware.RateLimitStore
	Readiness      map[string]handlers.HealthChecker
}

// NewRouter creates the Chi router with the full middleware stack and route
// table.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("api")

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(chimiddleware.Timeout(config.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		ExposedHeaders:   config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}))

	var rateLimiter *middleware.RateLimiter
	if config.EnableRateLimiting {
		store := deps.RateLimitStore
		if store == nil {
			store = middleware.NewMemoryRateLimitStore()
		}
		rateLimiter = middleware.NewRateLimiter(store, config.RateLimitConfig, log)
	}
	limit := func(limitType string) func(http.Handler) http.Handler {
		if rateLimiter == nil {
			return passthrough
		}
		return rateLimiter.Middleware(limitType)
	}

	// Probes sit outside identity and rate limiting.
	r.Get("/health", handlers.HealthCheck(config.Version))
	r.Get("/ready", handlers.ReadyCheck(deps.Readiness))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Route("/guardrails", func(r chi.Router) {
			r.Use(limit("default"))

			if deps.Guardrails == nil {
				r.HandleFunc("/*", unavailable)
				return
			}

			r.Post("/check", handlers.HandleGuardrailsCheck(deps.Guardrails, log))
			r.Get("/rules", handlers.ListRules(deps.Guardrails, log))
			r.Get("/logs", handlers.ListViolationLogs(deps.Guardrails, log))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/rules", handlers.CreateRule(deps.Guardrails, log))
				r.Put("/rules/{id}", handlers.UpdateRule(deps.Guardrails, log))
				r.Delete("/rules/{id}", handlers.DeleteRule(deps.Guardrails, log))
			})
		})

		r.Route("/documents", func(r chi.Router) {
			if deps.Documents == nil {
				r.HandleFunc("/*", unavailable)
				return
			}

			r.With(limit("upload")).Post("/", handlers.UploadDocument(deps.Documents, config.MaxUploadBytes, log))
			r.With(limit("default")).Get("/", handlers.ListDocuments(deps.Documents, log))
			r.With(limit("default")).Delete("/{id}", handlers.DeleteDocument(deps.Documents, log))
		})

		r.Route("/chat", func(r chi.Router) {
			r.Use(limit("chat"))

			if deps.RAGChat != nil {
				r.Post("/rag", handlers.HandleRAGChat(deps.RAGChat, deps.Checker, log))
			} else {
				r.HandleFunc("/rag", unavailable)
			}
			if deps.ToolChat != nil {
				r.Post("/tools", handlers.HandleToolChat(deps.ToolChat, deps.Checker, log))
			} else {
				r.HandleFunc("/tools", unavailable)
			}
			if deps.History != nil {
				r.Get("/history", handlers.GetChatHistory(deps.History, log))
				r.Delete("/history", handlers.ClearChatHistory(deps.History, log))
			} else {
				r.HandleFunc("/history", unavailable)
			}
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler {
	return next
}

func unavailable(w http.ResponseWriter, r *http.Request) {
	handlers.RespondServiceUnavailable(w, "")
}

// Server wraps http.Server with graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    90 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP server around the handler.
func NewServer(handler http.Handler, config ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         formatAddr(config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		log: log,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func formatAddr(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
