// Package server provides the HTTP API for recall.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/indexer"
	"github.com/hyperjump/recall/internal/metrics"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// InboxService manages watched inbox directories. The server works without one.
type InboxService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the recall API.
type Server struct {
	engine      *search.Engine
	indexer     *indexer.Indexer
	storage     storage.Storage
	vectorIndex vector.VectorIndex
	config      *config.Config
	configPath  string
	configMu    sync.Mutex
	inbox       InboxService
	finder      *search.Finder
	metrics     *metrics.Collector
	chatLimiter *rate.Limiter
	logger      *zap.Logger
	server      *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithInbox enables the inbox directory routes. When configPath is set, directory changes
// are saved back to the config file.
func WithInbox(inbox InboxService, configPath string) ServerOption {
	return func(s *Server) {
		s.inbox = inbox
		s.configPath = configPath
	}
}

// WithFinder enables keyword lookup on /api/v1/messages/search.
func WithFinder(f *search.Finder) ServerOption {
	return func(s *Server) { s.finder = f }
}

// WithMetrics serves c on /metrics.
func WithMetrics(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = c }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	storage storage.Storage,
	vectorIndex vector.VectorIndex,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:      engine,
		indexer:     idx,
		storage:     storage,
		vectorIndex: vectorIndex,
		config:      cfg,
		logger:      logger,
	}
	if cfg.Server.ChatRatePerSec > 0 {
		burst := cfg.Server.ChatBurst
		if burst < 1 {
			burst = 1
		}
		s.chatLimiter = rate.NewLimiter(rate.Limit(cfg.Server.ChatRatePerSec), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	// Generation may take up to the chat timeout; leave room for retrieval.
	r.Use(middleware.Timeout(s.config.LLM.ChatTimeout + 30*time.Second))

	r.Post("/ingest", s.handleIngest)
	r.With(s.limitChat).Post("/chat", s.handleChat)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Post("/messages", s.handleIngest)
		r.Get("/messages/search", s.handleFindMessages)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.With(s.limitChat).Post("/chat", s.handleChat)
		r.Get("/status", s.handleStatus)
		r.Get("/inbox/directories", s.handleInboxList)
		r.Post("/inbox/directories", s.handleInboxAdd)
		r.Delete("/inbox/directories", s.handleInboxRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) limitChat(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.chatLimiter != nil && !s.chatLimiter.Allow() {
			s.respondError(w, http.StatusTooManyRequests, "too many questions, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
