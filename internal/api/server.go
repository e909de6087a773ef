package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    *slog.Logger
	Pipeline  ingester     // Required
	Retriever retriever    // Required
	Prompts   promptRouter // Required
	WebSearch webSearcher  // Optional: nil disables the live web search fallback
	Pool      *pgxpool.Pool
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("ingestion pipeline is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Prompts == nil {
		return nil, errors.New("prompt router is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ih := &ingestHandler{pipeline: cfg.Pipeline, logger: logger}
	rh := &retrievalHandler{
		retriever: cfg.Retriever,
		prompts:   cfg.Prompts,
		web:       cfg.WebSearch,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ingest", ih.ingest)
	mux.HandleFunc("POST /api/v1/query", rh.query)
	mux.HandleFunc("POST /api/v1/answer", rh.answer)

	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps health probes out of the middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
