// Package app assembles the prediction engine from configuration. It is
// shared by the service and the replay command.
package app

import (
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/propensity/internal/config"
	"github.com/MikeSquared-Agency/propensity/internal/embedding"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
	"github.com/MikeSquared-Agency/propensity/internal/features"
	"github.com/MikeSquared-Agency/propensity/internal/generator"
	"github.com/MikeSquared-Agency/propensity/internal/policy"
)

// NewEmbedder returns the configured embedder behind the LRU cache.
func NewEmbedder(cfg config.Config) (embedding.Embedder, error) {
	var emb embedding.Embedder
	switch cfg.Embedder {
	case "openai":
		remote, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDim,
			RateLimit:  cfg.EmbedRateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		emb = remote
	default:
		emb = embedding.NewHashEmbedder(cfg.EmbeddingDim)
	}
	return embedding.NewCached(emb, cfg.EmbedCacheSize), nil
}

// NewGenerator returns the configured response generator, or nil when
// generation is disabled.
func NewGenerator(cfg config.Config) (engine.Generator, error) {
	if cfg.Generator == "" || cfg.Generator == "none" {
		return nil, nil
	}
	gcfg := generator.Config{Provider: cfg.Generator, Model: cfg.GeneratorModel}
	switch cfg.Generator {
	case "anthropic":
		gcfg.APIKey = cfg.AnthropicAPIKey
	case "openai":
		gcfg.APIKey = cfg.OpenAIAPIKey
		gcfg.BaseURL = cfg.OpenAIBaseURL
	}
	gen, err := generator.New(gcfg)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}
	return gen, nil
}

// NewEngine builds the full pipeline: embedder, aggregator, policy and the
// optional generator.
func NewEngine(cfg config.Config, logger *slog.Logger) (*engine.Engine, error) {
	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("embedder ready", "embedder", emb.Name(), "dims", emb.Dimensions(), "cache", cfg.EmbedCacheSize)

	agg, err := features.NewRecencyAggregator(cfg.EmbeddingDim, cfg.ContextDecay)
	if err != nil {
		return nil, fmt.Errorf("create aggregator: %w", err)
	}
	scorer, err := policy.LoadScorer(cfg.PolicyPath, agg.Dim())
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", cfg.PolicyPath, err)
	}
	logger.Info("policy loaded", "version", scorer.Version(), "input_dim", scorer.InputDim())

	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	if gen != nil {
		logger.Info("generator ready", "provider", cfg.Generator)
	} else {
		logger.Warn("no generator configured, predict/respond disabled")
	}

	eng, err := engine.New(engine.Config{
		Trigger:          engine.Trigger(cfg.Trigger),
		EmbedConcurrency: cfg.EmbedConcurrency,
	}, emb, agg, scorer, gen, logger)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return eng, nil
}
