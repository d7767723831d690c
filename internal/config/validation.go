package config

import (
	"fmt"
	"log/slog"
	"os"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key is required for both embeddings and generation.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: temperature must be between 0.0 and 2.0, got %.2f", ErrInvalidModelName, c.Temperature)
	}
	if c.MaxOutputTokens < 1 {
		return fmt.Errorf("%w: max_output_tokens must be positive, got %d", ErrInvalidModelName, c.MaxOutputTokens)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: embedder_dimension must be between 1 and 4096, got %d",
			ErrInvalidEmbedderModel, c.EmbedderDimension)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 250 {
		return fmt.Errorf("%w: embed_batch_size must be between 1 and 250, got %d",
			ErrInvalidEmbedderModel, c.EmbedBatchSize)
	}
	if c.EmbedMaxRetries < 0 || c.EmbedMaxRetries > 10 {
		return fmt.Errorf("%w: embed_max_retries must be between 0 and 10, got %d",
			ErrInvalidEmbedderModel, c.EmbedMaxRetries)
	}
	if c.EmbedRateLimit <= 0 {
		return fmt.Errorf("%w: embed_rate_limit must be positive, got %v",
			ErrInvalidEmbedderModel, c.EmbedRateLimit)
	}

	if c.ChunkSize < 100 || c.ChunkSize > 100_000 {
		return fmt.Errorf("%w: chunk_size must be between 100 and 100000, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be non-negative and smaller than chunk_size, got %d",
			ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.RetrievalTopK < 1 || c.RetrievalTopK > 50 {
		return fmt.Errorf("%w: retrieval_top_k must be between 1 and 50, got %d", ErrInvalidRetrieval, c.RetrievalTopK)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold >= 1 {
		return fmt.Errorf("%w: score_threshold must be in [0, 1), got %.2f", ErrInvalidRetrieval, c.ScoreThreshold)
	}

	if c.SessionMaxTurns < 1 || c.SessionMaxTurns > 200 {
		return fmt.Errorf("%w: session_max_turns must be between 1 and 200, got %d", ErrInvalidSession, c.SessionMaxTurns)
	}
	if c.SessionTokenBudget < 500 {
		return fmt.Errorf("%w: session_token_budget must be at least 500, got %d", ErrInvalidSession, c.SessionTokenBudget)
	}
	if c.SessionTTLMinutes < 1 {
		return fmt.Errorf("%w: session_ttl_minutes must be positive, got %d", ErrInvalidSession, c.SessionTTLMinutes)
	}

	if c.MaxConcurrentIngests < 1 || c.MaxConcurrentIngests > 16 {
		return fmt.Errorf("%w: max_concurrent_ingests must be between 1 and 16, got %d",
			ErrInvalidIngest, c.MaxConcurrentIngests)
	}
	if c.DefaultCollection == "" {
		return fmt.Errorf("%w: default_collection cannot be empty", ErrInvalidIngest)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgres)
	}
	if c.PostgresPassword == "docfox_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "change postgres_password for production deployments")
	}

	return nil
}
