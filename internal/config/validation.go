package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values. Returns sentinel errors
// checkable with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidListenAddr)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if !slices.Contains([]string{"auto", "on", "off"}, c.EmbedderDims) {
		return fmt.Errorf("%w: embedder_dims must be auto, on, or off, got %q",
			ErrInvalidEmbedderModel, c.EmbedderDims)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got overlap=%d size=%d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	if c.RAG.AgencyThreshold < 0 || c.RAG.AgencyThreshold > 1 {
		return fmt.Errorf("%w: agency_threshold must be in [0, 1], got %.2f",
			ErrInvalidTuning, c.RAG.AgencyThreshold)
	}
	if c.RAG.CampaignThreshold < 0 || c.RAG.CampaignThreshold > 1 {
		return fmt.Errorf("%w: campaign_threshold must be in [0, 1], got %.2f",
			ErrInvalidTuning, c.RAG.CampaignThreshold)
	}
	for name, v := range map[string]int{
		"agency_count":   c.RAG.AgencyCount,
		"campaign_count": c.RAG.CampaignCount,
		"fallback_count": c.RAG.FallbackCount,
		"target":         c.RAG.Target,
		"max_results":    c.RAG.MaxResults,
		"keyword_limit":  c.RAG.KeywordLimit,
	} {
		if v <= 0 || v > 100 {
			return fmt.Errorf("%w: rag.%s must be in [1, 100], got %d", ErrInvalidTuning, name, v)
		}
	}
	if c.RAG.Target > c.RAG.MaxResults {
		return fmt.Errorf("%w: rag.target (%d) cannot exceed rag.max_results (%d)",
			ErrInvalidTuning, c.RAG.Target, c.RAG.MaxResults)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "auro_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
