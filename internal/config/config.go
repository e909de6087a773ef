// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.auro/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive values (API keys, the database password) are masked in
// MarshalJSON and String; validation uses sentinel errors checkable
// with errors.Is.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunking indicates the chunk size/overlap pair is invalid.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidTuning indicates a retrieval tuning value is out of range.
	ErrInvalidTuning = errors.New("invalid retrieval tuning")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

// DefaultEmbedderModel is the default Gemini embedding model.
// gemini-embedding-001 outputs 3072 dimensions by default but supports
// truncation to 768 via OutputDimensionality; the pgvector schema uses
// 768. See embed.Dimension.
const DefaultEmbedderModel = "gemini-embedding-001"

// RAGConfig holds the retrieval cascade tuning. The thresholds and caps
// are empirically tuned constants carried as configuration; see
// retrieve.DefaultTuning for the shipped values.
type RAGConfig struct {
	AgencyThreshold   float64 `mapstructure:"agency_threshold" json:"agency_threshold"`
	AgencyCount       int     `mapstructure:"agency_count" json:"agency_count"`
	CampaignThreshold float64 `mapstructure:"campaign_threshold" json:"campaign_threshold"`
	CampaignCount     int     `mapstructure:"campaign_count" json:"campaign_count"`
	FallbackCount     int     `mapstructure:"fallback_count" json:"fallback_count"`
	Target            int     `mapstructure:"target" json:"target"`
	MaxResults        int     `mapstructure:"max_results" json:"max_results"`
	KeywordLimit      int     `mapstructure:"keyword_limit" json:"keyword_limit"`
}

// RoutingConfig holds the retrieval folder-routing vocabularies. Empty
// lists fall back to the baked-in defaults; deployments append their
// brand and project names.
type RoutingConfig struct {
	Market     []string `mapstructure:"market" json:"market"`
	Brand      []string `mapstructure:"brand" json:"brand"`
	Promo      []string `mapstructure:"promo" json:"promo"`
	Process    []string `mapstructure:"process" json:"process"`
	Investment []string `mapstructure:"investment" json:"investment"`
	Fallback   []string `mapstructure:"fallback" json:"fallback"`
}

// IntentConfig holds the prompt-router classification vocabularies.
type IntentConfig struct {
	Objection []string `mapstructure:"objection" json:"objection"`
	Brand     []string `mapstructure:"brand" json:"brand"`
}

// ScraperConfig controls the website crawler.
type ScraperConfig struct {
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	DelayMs     int `mapstructure:"delay_ms" json:"delay_ms"`
	TimeoutMs   int `mapstructure:"timeout_ms" json:"timeout_ms"`
	MaxDepth    int `mapstructure:"max_depth" json:"max_depth"`
	MaxPages    int `mapstructure:"max_pages" json:"max_pages"`
}

// ObservabilityConfig controls OTLP trace export.
type ObservabilityConfig struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string  `mapstructure:"service_name" json:"service_name"`
	Environment string  `mapstructure:"environment" json:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio" json:"sample_ratio"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding a
// new secret field, update MarshalJSON.
type Config struct {
	// HTTP server
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Embedding
	GeminiAPIKey    string  `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	EmbedderModel   string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderRPS     float64 `mapstructure:"embedder_rps" json:"embedder_rps"`
	// EmbedderDims forces the output-dimensionality capability:
	// "auto" consults the built-in model table, "on"/"off" override it.
	EmbedderDims string `mapstructure:"embedder_dims" json:"embedder_dims"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Retrieval
	RAG     RAGConfig     `mapstructure:"rag" json:"rag"`
	Routing RoutingConfig `mapstructure:"routing" json:"routing"`
	Intent  IntentConfig  `mapstructure:"intent" json:"intent"`

	// Web search fallback (Perplexity)
	PerplexityAPIKey string `mapstructure:"perplexity_api_key" json:"perplexity_api_key"` // SENSITIVE: masked in MarshalJSON
	WebSearchModel   string `mapstructure:"web_search_model" json:"web_search_model"`

	// Website crawler
	Scraper ScraperConfig `mapstructure:"scraper" json:"scraper"`

	// Observability
	Observability ObservabilityConfig `mapstructure:"observability" json:"observability"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".auro")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_rps", 0) // provider limits apply
	v.SetDefault("embedder_dims", "auto")

	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "auro")
	v.SetDefault("postgres_password", "auro_dev_password")
	v.SetDefault("postgres_db_name", "auro")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("rag.agency_threshold", 0.15)
	v.SetDefault("rag.agency_count", 8)
	v.SetDefault("rag.campaign_threshold", 0.15)
	v.SetDefault("rag.campaign_count", 10)
	v.SetDefault("rag.fallback_count", 5)
	v.SetDefault("rag.target", 3)
	v.SetDefault("rag.max_results", 8)
	v.SetDefault("rag.keyword_limit", 2)

	v.SetDefault("web_search_model", "sonar")

	v.SetDefault("scraper.parallelism", 2)
	v.SetDefault("scraper.delay_ms", 500)
	v.SetDefault("scraper.timeout_ms", 20000)
	v.SetDefault("scraper.max_depth", 3)
	v.SetDefault("scraper.max_pages", 50)

	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.endpoint", "localhost:4318")
	v.SetDefault("observability.service_name", "auro-assistant")
	v.SetDefault("observability.environment", "dev")
	v.SetDefault("observability.sample_ratio", 1.0)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds the secret environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("perplexity_api_key", "PERPLEXITY_API_KEY")
	mustBind("listen_addr", "AURO_LISTEN_ADDR")
	mustBind("embedder_model", "AURO_EMBEDDER_MODEL")
	mustBind("log_level", "AURO_LOG_LEVEL")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matches against real secret fragments.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep two characters on each side for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.PerplexityAPIKey = maskSecret(a.PerplexityAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
