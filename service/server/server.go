package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/txnorm/service/config"
	"github.com/brojonat/txnorm/service/db"
	"github.com/brojonat/txnorm/service/metrics"
	"github.com/brojonat/txnorm/service/normalizer"
	"github.com/brojonat/txnorm/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TransactionStore is the read side of db.Store used by the HTTP API.
type TransactionStore interface {
	GetTransaction(ctx context.Context, account, id string) (*db.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, params db.ListTransactionsByAccountParams) ([]*db.Transaction, error)
	CountTransactionsByAccount(ctx context.Context, account, network string) (int64, error)
}

var _ TransactionStore = (*db.Store)(nil)

// Server represents the HTTP server for normalized transactions.
type Server struct {
	addr         string
	cfg          *config.Config
	store        TransactionStore
	scheduler    temporal.Scheduler
	normalizer   *normalizer.Normalizer
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler creates and deletes Temporal schedules for account syncing.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store TransactionStore, scheduler temporal.Scheduler, norm *normalizer.Normalizer, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if norm == nil {
		opts := normalizer.DefaultOptions()
		if cfg != nil {
			opts = cfg.NormalizerOptions()
		}
		norm = normalizer.New(opts, logger)
	}
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		scheduler:    scheduler,
		normalizer:   norm,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler, wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMiddleware(s.metrics, pattern)(h))
	}

	// Stored transactions
	route("GET /api/v1/accounts/{address}/transactions", handleListTransactions(s.store, s.logger))
	route("GET /api/v1/accounts/{address}/transactions/{id}", handleGetTransaction(s.store, s.logger))

	// Sync schedules
	route("POST /api/v1/accounts/{address}/sync", handleCreateSync(s.scheduler, s.cfg, s.logger))
	route("GET /api/v1/accounts/{address}/sync", handleDescribeSync(s.scheduler, s.logger))
	route("DELETE /api/v1/accounts/{address}/sync", handleDeleteSync(s.scheduler, s.logger))

	// Stateless normalization of caller-supplied records
	route("POST /api/v1/normalize", handleNormalize(s.normalizer, s.metrics, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/transactions/{address}", handleStreamTransactions(s.ssePublisher, s.logger))
		route("GET /api/v1/stream/transactions", handleStreamTransactions(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE responses stay open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
