// Package app wires configuration, the database pool, the Gemini
// client, and the pipeline components into a running application.
// Each provide* function builds one dependency; Setup composes them
// and Close tears them down in reverse order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/docfox/docfox/db"
	"github.com/docfox/docfox/internal/answer"
	"github.com/docfox/docfox/internal/chat"
	"github.com/docfox/docfox/internal/chunk"
	"github.com/docfox/docfox/internal/config"
	"github.com/docfox/docfox/internal/convo"
	"github.com/docfox/docfox/internal/embed"
	"github.com/docfox/docfox/internal/ingest"
	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/observability"
	"github.com/docfox/docfox/internal/retrieve"
	"github.com/docfox/docfox/internal/vecstore"
)

// App holds all initialized application components.
type App struct {
	Config *config.Config

	Pool     *pgxpool.Pool
	Index    *vecstore.Store
	Embedder *embed.Client
	Sessions *convo.Manager
	Chat     *chat.Service
	Ingest   *ingest.Manager

	logger      log.Logger
	dbCleanup   func()
	otelCleanup func(context.Context) error
}

// Setup initializes all application components from config.
// On failure everything already initialized is torn down.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			ServiceName: cfg.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.otelCleanup = shutdown
	}

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.Pool = pool

	a.Index, err = vecstore.New(pool, logger)
	if err != nil {
		return nil, err
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	retry := embed.DefaultRetryConfig()
	if cfg.EmbedMaxRetries > 0 {
		retry.MaxRetries = cfg.EmbedMaxRetries
	}
	a.Embedder, err = embed.New(gc, embed.Config{
		Model:     cfg.EmbedderModel,
		Dimension: cfg.EmbedderDimension,
		BatchSize: cfg.EmbedBatchSize,
		RateLimit: cfg.EmbedRateLimit,
		Retry:     retry,
	}, logger)
	if err != nil {
		return nil, err
	}

	retriever, err := retrieve.New(a.Embedder, a.Index, retrieve.Config{
		TopK:      cfg.RetrievalTopK,
		Threshold: float64(cfg.ScoreThreshold),
	}, logger)
	if err != nil {
		return nil, err
	}

	a.Sessions, err = convo.NewManager(convo.Config{
		MaxTurns:    cfg.SessionMaxTurns,
		TokenBudget: cfg.SessionTokenBudget,
		TTL:         time.Duration(cfg.SessionTTLMinutes) * time.Minute,
	}, logger)
	if err != nil {
		return nil, err
	}

	model, err := answer.NewGoogleModel(gc, answer.ModelConfig{
		Model:           cfg.ModelName,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: int32(cfg.MaxOutputTokens),
	}, logger)
	if err != nil {
		return nil, err
	}

	generator, err := answer.NewGenerator(model, logger)
	if err != nil {
		return nil, err
	}

	a.Chat, err = chat.New(a.Sessions, retriever, generator, chat.Config{
		DefaultCollection: cfg.DefaultCollection,
		TokenBudget:       cfg.SessionTokenBudget,
	}, logger)
	if err != nil {
		return nil, err
	}

	splitter, err := chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	a.Ingest, err = ingest.NewManager(ingest.NewMemoryStore(), a.Index, a.Embedder, splitter, ingest.Config{
		MaxConcurrent:  cfg.MaxConcurrentIngests,
		EmbedBatchSize: cfg.EmbedBatchSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases resources in reverse initialization order.
func (a *App) Close() error {
	if a.Ingest != nil {
		a.Ingest.Close()
	}
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelCleanup(ctx); err != nil {
			return fmt.Errorf("flushing traces: %w", err)
		}
	}
	return nil
}

// provideDBPool runs migrations and opens a bounded connection pool.
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
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}
