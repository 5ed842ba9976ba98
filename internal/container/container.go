package container

import (
	"context"
	"fmt"

	"gokpi/adapters/catalog"
	"gokpi/adapters/embedding"
	"gokpi/adapters/forecast"
	"gokpi/adapters/llm"
	"gokpi/adapters/redis"
	"gokpi/app"
	"gokpi/internal"
	"gokpi/internal/config"
	"gokpi/internal/metrics"
	"gokpi/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config

	// Infrastructure
	Recorder *metrics.Recorder
	Cache    *redis.EmbeddingCache

	// AI components, nil when no API key is configured
	LLM       ports.LLMClient
	Semantic  ports.SimilarityService
	Narrative ports.NarrativeGenerator

	Catalog    ports.CatalogSource
	Forecaster ports.Forecaster

	// Services
	KPI     *app.KPIService
	Reports *app.ReportService

	logger *internal.Logger
}

// New creates a new dependency injection container. Optional backends that
// fail to start are logged and left out.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	c := &Container{
		Config:     cfg,
		Recorder:   metrics.NewRecorder(),
		Catalog:    catalog.NewSource(cfg.Catalog.OverridePath),
		Forecaster: forecast.NewSTLSmoother(),
		logger:     internal.DefaultLogger.With("Container"),
	}

	if cfg.AI.Enabled() {
		if err := c.initAIComponents(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize AI components: %w", err)
		}
	} else {
		c.logger.Info("no API key configured, semantic matching and narratives are disabled")
	}

	c.KPI = app.NewKPIService(app.ServiceOptions{
		Matcher:           cfg.Policy.Matcher,
		Granularity:       cfg.Policy.Granularity,
		Trend:             cfg.Policy.Trend,
		MaxConcurrentRuns: cfg.Policy.MaxConcurrentRuns,
		Semantic:          c.Semantic,
		Forecaster:        c.Forecaster,
		Recorder:          c.Recorder,
	})
	c.Reports = app.NewReportService(c.Narrative)
	return c, nil
}

// initAIComponents wires the LLM client into semantic matching and narratives
func (c *Container) initAIComponents(ctx context.Context) error {
	ai := c.Config.AI
	client, err := llm.NewClient(llm.Config{
		APIKey:         ai.APIKey,
		BaseURL:        ai.BaseURL,
		ChatModel:      ai.ChatModel,
		EmbeddingModel: ai.EmbeddingModel,
		MaxTokens:      ai.MaxTokens,
		Timeout:        ai.Timeout,
	})
	if err != nil {
		return err
	}
	c.LLM = client

	var cache ports.EmbeddingCache
	if c.Config.Redis.Addr != "" {
		rc, err := redis.NewEmbeddingCache(ctx, redis.Config{
			Addr:     c.Config.Redis.Addr,
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
			TTL:      c.Config.Redis.TTL,
		})
		if err != nil {
			c.logger.Warn("embedding cache unavailable, continuing without it: %v", err)
		} else {
			c.Cache = rc
			cache = rc
			c.logger.Info("embedding cache at %s", c.Config.Redis.Addr)
		}
	}

	c.Semantic = embedding.NewSimilarity(client, ai.EmbeddingModel, cache, c.Recorder)
	c.Narrative = llm.NewNarrativeAdapter(client, ai.ChatModel, ai.MaxTokens)
	c.logger.Info("AI components initialized: chat=%s embeddings=%s", ai.ChatModel, ai.EmbeddingModel)
	return nil
}

// Shutdown gracefully shuts down all components
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}
