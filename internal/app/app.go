// Package app provides application initialization and dependency injection.
//
// App is the core container that wires configuration, the database pool,
// the embedding client, and the ingestion/retrieval components together.
package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurohq/auro-assistant/internal/chunk"
	"github.com/aurohq/auro-assistant/internal/config"
	"github.com/aurohq/auro-assistant/internal/embed"
	"github.com/aurohq/auro-assistant/internal/ingest"
	"github.com/aurohq/auro-assistant/internal/knowledge"
	"github.com/aurohq/auro-assistant/internal/log"
	"github.com/aurohq/auro-assistant/internal/prompt"
	"github.com/aurohq/auro-assistant/internal/retrieve"
	"github.com/aurohq/auro-assistant/internal/scrape"
	"github.com/aurohq/auro-assistant/internal/websearch"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	DBPool    *pgxpool.Pool
	Knowledge *knowledge.Store
	Embedder  *embed.Client
	Splitter  *chunk.Splitter

	// Domain components
	Pipeline  *ingest.Pipeline
	Retriever *retrieve.Orchestrator
	Prompts   *prompt.Router
	WebSearch *websearch.Client // nil when no provider key is configured
	Crawler   *scrape.Crawler

	// Lifecycle management
	otelCleanup func()
	dbCleanup   func()
	cancel      context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.cancel != nil {
		a.cancel()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
