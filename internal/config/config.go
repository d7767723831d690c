// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.docfox/config.yaml or ./config.yaml)
//  3. Default values
//
// Validation is fail-fast with sentinel errors checkable via errors.Is().
// Sensitive fields (passwords) are masked in MarshalJSON/String.
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

	// ErrMissingAPIKey indicates the Gemini API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunking indicates chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidRetrieval indicates top-k or score threshold is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")

	// ErrInvalidSession indicates session limits are out of range.
	ErrInvalidSession = errors.New("invalid session configuration")

	// ErrInvalidIngest indicates ingestion limits are out of range.
	ErrInvalidIngest = errors.New("invalid ingestion configuration")

	// ErrInvalidPostgres indicates the PostgreSQL settings are invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation to 768 via OutputDimensionality; the pgvector schema in
	// db/migrations uses 768.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the default completion model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultScoreThreshold is the default retrieval relevance cutoff.
	// Observed useful range in operation is 0.3-0.7; there is no principled
	// derivation, so it stays configurable and should be tuned empirically.
	DefaultScoreThreshold = 0.35
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON().
type Config struct {
	// AI model configuration
	ModelName         string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel     string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int32   `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	Temperature       float32 `mapstructure:"temperature" json:"temperature"`
	MaxOutputTokens   int     `mapstructure:"max_output_tokens" json:"max_output_tokens"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval
	RetrievalTopK  int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	ScoreThreshold float32 `mapstructure:"score_threshold" json:"score_threshold"`

	// Embedding client
	EmbedBatchSize  int     `mapstructure:"embed_batch_size" json:"embed_batch_size"`
	EmbedRateLimit  float64 `mapstructure:"embed_rate_limit" json:"embed_rate_limit"` // requests per second
	EmbedMaxRetries int     `mapstructure:"embed_max_retries" json:"embed_max_retries"`

	// Conversation sessions
	SessionMaxTurns    int `mapstructure:"session_max_turns" json:"session_max_turns"`
	SessionTokenBudget int `mapstructure:"session_token_budget" json:"session_token_budget"`
	SessionTTLMinutes  int `mapstructure:"session_ttl_minutes" json:"session_ttl_minutes"`

	// Ingestion
	MaxConcurrentIngests int    `mapstructure:"max_concurrent_ingests" json:"max_concurrent_ingests"`
	DefaultCollection    string `mapstructure:"default_collection" json:"default_collection"`

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Observability (optional OTLP trace export)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docfox")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
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

	// DATABASE_URL, when set, overrides individual postgres_* settings.
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
	// AI defaults
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", 768)
	v.SetDefault("temperature", 0.3)
	v.SetDefault("max_output_tokens", 2048)

	// Chunking defaults
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)

	// Retrieval defaults
	v.SetDefault("retrieval_top_k", 5)
	v.SetDefault("score_threshold", DefaultScoreThreshold)

	// Embedding client defaults
	v.SetDefault("embed_batch_size", 32)
	v.SetDefault("embed_rate_limit", 5.0)
	v.SetDefault("embed_max_retries", 3)

	// Session defaults
	v.SetDefault("session_max_turns", 10)
	v.SetDefault("session_token_budget", 6000)
	v.SetDefault("session_ttl_minutes", 60)

	// Ingestion defaults
	v.SetDefault("max_concurrent_ingests", 2)
	v.SetDefault("default_collection", "docs")

	// Server defaults
	v.SetDefault("listen_addr", "127.0.0.1:3500")

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "docfox")
	v.SetDefault("postgres_password", "docfox_dev_password")
	v.SetDefault("postgres_db_name", "docfox")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Observability defaults (empty endpoint = tracing disabled)
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "docfox")
}

// bindEnvVariables binds environment variable overrides explicitly.
// GEMINI_API_KEY is read directly by the genai client, not via viper;
// its presence is checked in Validate().
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a programming bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("listen_addr", "DOCFOX_LISTEN_ADDR")
	mustBind("model_name", "DOCFOX_MODEL_NAME")
	mustBind("embedder_model", "DOCFOX_EMBEDDER_MODEL")
	mustBind("score_threshold", "DOCFOX_SCORE_THRESHOLD")
	mustBind("default_collection", "DOCFOX_COLLECTION")
	mustBind("otlp_endpoint", "DOCFOX_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Short secrets are fully masked; longer ones keep the first and last two
// characters for debug utility.
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
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
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
