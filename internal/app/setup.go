package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/genai"

	"github.com/aurohq/auro-assistant/db"
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

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	store, err := knowledge.New(pool, logger)
	if err != nil {
		return nil, err
	}
	a.Knowledge = store

	embedder, err := provideEmbedder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder

	splitter, err := chunk.New(chunk.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}
	a.Splitter = splitter

	pipeline, err := ingest.New(store, embedder, splitter, logger)
	if err != nil {
		return nil, err
	}
	a.Pipeline = pipeline

	retriever, err := retrieve.New(store, embedder, routingKeywords(cfg), tuning(cfg), logger)
	if err != nil {
		return nil, err
	}
	a.Retriever = retriever

	prompts, err := prompt.New(intentKeywords(cfg))
	if err != nil {
		return nil, err
	}
	a.Prompts = prompts

	a.WebSearch = provideWebSearch(cfg, logger)
	a.Crawler = scrape.New(crawlerConfig(cfg), logger)

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	logger.Info("application initialized",
		"embedder_model", cfg.EmbedderModel,
		"web_search", a.WebSearch != nil,
	)
	return a, nil
}

// provideOtelShutdown configures OTLP trace export. Returns a shutdown
// closure; a no-op one when tracing is disabled or the exporter cannot
// be created.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	obs := cfg.Observability
	if !obs.Enabled {
		return func() {}
	}

	endpoint := obs.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	serviceName := obs.ServiceName
	if serviceName == "" {
		serviceName = "auro-assistant"
	}
	ratio := obs.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("deployment.environment", obs.Environment),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", serviceName,
		"sample_ratio", ratio,
	)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideEmbedder creates the Gemini client and wraps its Models service
// in the rate-limited embedding client.
func provideEmbedder(ctx context.Context, cfg *config.Config, logger log.Logger) (*embed.Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	embedCfg := embed.Config{
		Model:             cfg.EmbedderModel,
		RequestsPerSecond: cfg.EmbedderRPS,
	}
	switch cfg.EmbedderDims {
	case "on":
		embedCfg.Capabilities = &embed.Capabilities{OutputDimensionality: true}
	case "off":
		embedCfg.Capabilities = &embed.Capabilities{OutputDimensionality: false}
	}

	return embed.NewClient(genaiClient.Models, embedCfg, logger)
}

// provideWebSearch creates the live web search client. A missing API key
// disables the fallback rather than failing startup.
func provideWebSearch(cfg *config.Config, logger log.Logger) *websearch.Client {
	if cfg.PerplexityAPIKey == "" {
		logger.Info("no web search API key configured, live search fallback disabled")
		return nil
	}

	client, err := websearch.New(websearch.Config{
		APIKey: cfg.PerplexityAPIKey,
		Model:  cfg.WebSearchModel,
	})
	if err != nil {
		logger.Warn("creating web search client, fallback disabled", "error", err)
		return nil
	}
	return client
}

// routingKeywords applies configured routing vocabularies over the
// defaults. Empty lists keep the baked-in terms.
func routingKeywords(cfg *config.Config) retrieve.Keywords {
	kw := retrieve.DefaultKeywords()
	r := cfg.Routing
	if len(r.Market) > 0 {
		kw.Market = r.Market
	}
	if len(r.Brand) > 0 {
		kw.Brand = r.Brand
	}
	if len(r.Promo) > 0 {
		kw.Promo = r.Promo
	}
	if len(r.Process) > 0 {
		kw.Process = r.Process
	}
	if len(r.Investment) > 0 {
		kw.Investment = r.Investment
	}
	if len(r.Fallback) > 0 {
		kw.Fallback = r.Fallback
	}
	return kw
}

func intentKeywords(cfg *config.Config) prompt.Keywords {
	kw := prompt.DefaultKeywords()
	if len(cfg.Intent.Objection) > 0 {
		kw.Objection = cfg.Intent.Objection
	}
	if len(cfg.Intent.Brand) > 0 {
		kw.Brand = cfg.Intent.Brand
	}
	return kw
}

func tuning(cfg *config.Config) retrieve.Tuning {
	r := cfg.RAG
	return retrieve.Tuning{
		AgencyThreshold:   r.AgencyThreshold,
		AgencyCount:       r.AgencyCount,
		CampaignThreshold: r.CampaignThreshold,
		CampaignCount:     r.CampaignCount,
		FallbackCount:     r.FallbackCount,
		Target:            r.Target,
		MaxResults:        r.MaxResults,
		KeywordLimit:      r.KeywordLimit,
	}
}

func crawlerConfig(cfg *config.Config) scrape.Config {
	s := cfg.Scraper
	return scrape.Config{
		Parallelism: s.Parallelism,
		Delay:       time.Duration(s.DelayMs) * time.Millisecond,
		Timeout:     time.Duration(s.TimeoutMs) * time.Millisecond,
		MaxDepth:    s.MaxDepth,
		MaxPages:    s.MaxPages,
	}
}
